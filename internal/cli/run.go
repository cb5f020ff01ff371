package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"spbridge/pkg/logger"
	"spbridge/pkg/utils/coerce"
	"spbridge/pkg/wasm"
)

func HandleRun(args []string) {
	logger.Setup(os.Getenv("APP_ENV"))
	os.Exit(runPlugin(context.Background(), args, os.Stdout))
}

// runPlugin implements `spbridge run <plugin-dir> [params...]`: it loads the
// plugin and calls its entry export with params as i32 values.
func runPlugin(ctx context.Context, args []string, out io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: spbridge run <plugin-dir> [params...]")
		return 1
	}

	params := make([]uint64, 0, len(args)-1)
	for _, a := range args[1:] {
		n, err := coerce.ToInt32(a)
		if err != nil {
			fmt.Fprintf(out, "❌ param %q: %v\n", a, err)
			return 1
		}
		params = append(params, uint64(uint32(n)))
	}

	pm, err := wasm.NewPluginManager(ctx, "")
	if err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return 1
	}
	defer pm.Close()

	plugin, err := pm.LoadPlugin(args[0])
	if err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return 1
	}

	results, err := pm.Run(ctx, plugin.Manifest.Name, params...)
	if err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return 1
	}

	for _, r := range results {
		fmt.Fprintln(out, int32(uint32(r)))
	}
	return 0
}
