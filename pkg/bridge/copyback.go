package bridge

import (
	"log/slog"

	"spbridge/pkg/cell"
	"spbridge/pkg/metrics"
	"spbridge/pkg/script"
)

// copyBack writes the current value of every tracked record into native
// memory, in registration order. Values of any type other than number, string
// or array are skipped, as are writes native memory rejects; neither is an
// error for the call.
func (f *Function) copyBack() {
	mem := f.runtime.Memory()
	for _, b := range f.refs.bindings {
		kind, err := writeBack(mem, b)
		if err != nil {
			slog.Debug("Copy-back write skipped", "function", f.id, "addr", b.addr, "error", err)
			kind = "skipped"
		}
		metrics.CopyBackTotal.WithLabelValues(kind).Inc()
	}
}

func writeBack(mem cell.Memory, b binding) (string, error) {
	val := b.ref.Value
	switch val.Type {
	case script.ValNumber:
		n, _ := val.AsNumber()
		return "number", cell.Store(mem, b.addr, cell.EncodeNumber(n))

	case script.ValString:
		s, _ := val.AsString()
		_, err := cell.StoreString(mem, b.addr, b.size, s)
		return "string", err

	case script.ValArray:
		items, _ := val.AsArray()
		n := uint32(len(items))
		if b.size < n {
			n = b.size
		}
		for i := uint32(0); i < n; i++ {
			num, ok := items[i].AsNumber()
			if !ok {
				continue
			}
			if err := cell.Store(mem, b.addr+i*cell.Size, cell.EncodeNumber(num)); err != nil {
				return "array", err
			}
		}
		return "array", nil

	default:
		return "skipped", nil
	}
}
