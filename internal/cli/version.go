package cli

import (
	"fmt"
	"runtime"
)

// Version is the current version of spbridge
const Version = "0.1.0"

// HandleVersion prints the current version of spbridge
func HandleVersion() {
	fmt.Printf("spbridge version %s %s/%s\n", Version, runtime.GOOS, runtime.GOARCH)
}
