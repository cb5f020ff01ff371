package wasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewRuntime tests runtime creation
func TestNewRuntime(t *testing.T) {
	ctx := context.Background()
	runtime, err := NewRuntime(ctx)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	defer runtime.Close()

	if runtime.runtime == nil {
		t.Error("Runtime is nil")
	}

	if runtime.modules == nil {
		t.Error("Modules map is nil")
	}
}

func TestScratchMemory(t *testing.T) {
	runtime, err := NewRuntime(context.Background())
	require.NoError(t, err)
	defer runtime.Close()

	mem, err := runtime.NewScratchMemory("scratch")
	require.NoError(t, err)
	assert.Equal(t, uint32(65536), mem.Size())

	require.True(t, mem.WriteUint32Le(8, 0xdeadbeef))
	v, ok := mem.ReadUint32Le(8)
	require.True(t, ok)
	assert.Equal(t, uint32(0xdeadbeef), v)

	same, err := runtime.GetMemory("scratch")
	require.NoError(t, err)
	v, _ = same.ReadUint32Le(8)
	assert.Equal(t, uint32(0xdeadbeef), v)

	_, err = runtime.NewScratchMemory("scratch")
	assert.Error(t, err, "names are unique")
}

// TestUnloadModule tests unloading a module
func TestUnloadModule(t *testing.T) {
	ctx := context.Background()
	runtime, err := NewRuntime(ctx)
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	defer runtime.Close()

	if _, err := runtime.NewScratchMemory("test"); err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}

	if err := runtime.UnloadModule("test"); err != nil {
		t.Fatalf("Failed to unload module: %v", err)
	}

	modules := runtime.ListModules()
	if len(modules) != 0 {
		t.Errorf("Expected 0 modules after unload, got %d", len(modules))
	}

	if err := runtime.UnloadModule("test"); err == nil {
		t.Error("Expected error unloading a module twice")
	}
}

func TestCallFunctionErrors(t *testing.T) {
	runtime, err := NewRuntime(context.Background())
	require.NoError(t, err)
	defer runtime.Close()

	_, err = runtime.CallFunction(context.Background(), "missing", "run")
	assert.ErrorContains(t, err, "not loaded")

	_, err = runtime.NewScratchMemory("mem")
	require.NoError(t, err)
	_, err = runtime.CallFunction(context.Background(), "mem", "run")
	assert.ErrorContains(t, err, "not found")
}

func TestLoadModuleMissingFile(t *testing.T) {
	runtime, err := NewRuntime(context.Background())
	require.NoError(t, err)
	defer runtime.Close()

	_, err = runtime.LoadModule("nope", "testdata/does-not-exist.wasm")
	assert.Error(t, err)

	_, err = runtime.LoadModuleBytes("junk", []byte("not wasm"))
	assert.Error(t, err)
	assert.Empty(t, runtime.ListModules())
}
