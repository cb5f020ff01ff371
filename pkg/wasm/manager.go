package wasm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"spbridge/pkg/cell"
	"spbridge/pkg/host"
	"spbridge/pkg/script"
)

// PluginManifest represents the plugin configuration
type PluginManifest struct {
	Name        string           `yaml:"name"`
	Version     string           `yaml:"version"`
	Author      string           `yaml:"author,omitempty"`
	Description string           `yaml:"description,omitempty"`
	Binary      string           `yaml:"binary,omitempty"` // WASM file name; empty for script-only plugins
	Entry       string           `yaml:"entry,omitempty"`  // export called by Run
	Functions   []FunctionSource `yaml:"functions"`
}

// FunctionSource is a script function declared in the manifest.
type FunctionSource struct {
	Name        string `yaml:"name"`
	Expr        string `yaml:"expr"`
	Description string `yaml:"description,omitempty"`
}

// ReadManifest loads and validates manifest.yaml from pluginPath.
func ReadManifest(pluginPath string) (*PluginManifest, error) {
	manifestPath := filepath.Join(pluginPath, "manifest.yaml")
	manifestBytes, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest PluginManifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if manifest.Name == "" {
		return nil, fmt.Errorf("plugin name is required")
	}
	if manifest.Binary == "" && manifest.Entry != "" {
		return nil, fmt.Errorf("plugin %s declares entry %s but no binary", manifest.Name, manifest.Entry)
	}
	seen := make(map[string]bool, len(manifest.Functions))
	for i, fn := range manifest.Functions {
		if fn.Name == "" {
			return nil, fmt.Errorf("function #%d has no name", i)
		}
		if seen[fn.Name] {
			return nil, fmt.Errorf("function %s declared twice", fn.Name)
		}
		seen[fn.Name] = true
	}

	return &manifest, nil
}

// Compile builds the script registry declared by the manifest.
func (m *PluginManifest) Compile() (*script.Registry, error) {
	reg := script.NewRegistry()
	for _, fn := range m.Functions {
		if _, err := reg.RegisterExpr(fn.Name, fn.Expr); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadedPlugin represents a loaded plugin
type LoadedPlugin struct {
	Manifest *PluginManifest
	Host     *host.Runtime
	Binding  *Binding
	Path     string // Path to plugin directory for reload
	Module   string // name of the module holding the native memory
}

// PluginManager manages loading and lifecycle of plugins
type PluginManager struct {
	runtime       *Runtime
	hostFunctions *HostFunctions
	plugins       map[string]*LoadedPlugin
	pluginDir     string
	mu            sync.RWMutex
}

// NewPluginManager creates a new plugin manager
func NewPluginManager(ctx context.Context, pluginDir string) (*PluginManager, error) {
	runtime, err := NewRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create WASM runtime: %w", err)
	}

	hostFunctions := NewHostFunctions(runtime)
	if err := hostFunctions.RegisterHostFunctions(ctx); err != nil {
		runtime.Close()
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	return &PluginManager{
		runtime:       runtime,
		hostFunctions: hostFunctions,
		plugins:       make(map[string]*LoadedPlugin),
		pluginDir:     pluginDir,
	}, nil
}

// Runtime returns the underlying WASM runtime.
func (pm *PluginManager) Runtime() *Runtime {
	return pm.runtime
}

// LoadPlugin loads a single plugin from a directory
func (pm *PluginManager) LoadPlugin(pluginPath string) (*LoadedPlugin, error) {
	manifest, err := ReadManifest(pluginPath)
	if err != nil {
		return nil, err
	}

	pm.mu.RLock()
	_, exists := pm.plugins[manifest.Name]
	pm.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("plugin %s already loaded", manifest.Name)
	}

	reg, err := manifest.Compile()
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", manifest.Name, err)
	}
	rt := host.NewRuntime(reg, nil)

	// Bind before instantiating: the guest may call in from _initialize.
	binding := pm.hostFunctions.Bind(manifest.Name, rt)

	moduleName := manifest.Name
	var mem cell.Memory
	if manifest.Binary != "" {
		module, err := pm.runtime.LoadModule(manifest.Name, filepath.Join(pluginPath, manifest.Binary))
		if err != nil {
			pm.hostFunctions.Unbind(manifest.Name)
			return nil, fmt.Errorf("failed to load WASM module: %w", err)
		}
		if module.Memory() == nil {
			pm.hostFunctions.Unbind(manifest.Name)
			pm.runtime.UnloadModule(manifest.Name)
			return nil, fmt.Errorf("plugin %s exports no memory", manifest.Name)
		}
		mem = module.Memory()
	} else {
		moduleName = manifest.Name + ".mem"
		scratch, err := pm.runtime.NewScratchMemory(moduleName)
		if err != nil {
			pm.hostFunctions.Unbind(manifest.Name)
			return nil, fmt.Errorf("failed to create native memory: %w", err)
		}
		mem = scratch
	}
	rt.SetMemory(mem)

	plugin := &LoadedPlugin{
		Manifest: manifest,
		Host:     rt,
		Binding:  binding,
		Path:     pluginPath,
		Module:   moduleName,
	}

	pm.mu.Lock()
	pm.plugins[manifest.Name] = plugin
	pm.mu.Unlock()

	slog.Info("✅ Plugin loaded",
		"name", manifest.Name,
		"version", manifest.Version,
		"functions", len(manifest.Functions))

	return plugin, nil
}

// LoadPluginsFromDir loads all plugins from a directory
func (pm *PluginManager) LoadPluginsFromDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		slog.Warn("Plugin directory does not exist", "dir", dir)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read plugin directory: %w", err)
	}

	loadedCount := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginPath := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(filepath.Join(pluginPath, "manifest.yaml")); os.IsNotExist(err) {
			continue
		}

		if _, err := pm.LoadPlugin(pluginPath); err != nil {
			slog.Error("Failed to load plugin",
				"path", pluginPath,
				"error", err)
			// Continue loading other plugins
			continue
		}

		loadedCount++
	}

	slog.Info("🔌 Plugins loaded", "count", loadedCount, "dir", dir)
	return nil
}

// GetPlugin returns a loaded plugin by name
func (pm *PluginManager) GetPlugin(name string) (*LoadedPlugin, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	plugin, exists := pm.plugins[name]
	if !exists {
		return nil, fmt.Errorf("plugin %s not loaded", name)
	}
	return plugin, nil
}

// ListPlugins returns all loaded plugins
func (pm *PluginManager) ListPlugins() []*LoadedPlugin {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	plugins := make([]*LoadedPlugin, 0, len(pm.plugins))
	for _, p := range pm.plugins {
		plugins = append(plugins, p)
	}
	return plugins
}

// Run calls the plugin's entry export. The guest drives its bridges through
// the "sp" host module while it runs.
func (pm *PluginManager) Run(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	plugin, err := pm.GetPlugin(name)
	if err != nil {
		return nil, err
	}
	if plugin.Manifest.Entry == "" {
		return nil, fmt.Errorf("plugin %s has no entry export", name)
	}
	return pm.runtime.CallFunction(ctx, plugin.Module, plugin.Manifest.Entry, params...)
}

// UnloadPlugin unloads a plugin
func (pm *PluginManager) UnloadPlugin(name string) error {
	pm.mu.Lock()
	plugin, exists := pm.plugins[name]
	delete(pm.plugins, name)
	pm.mu.Unlock()
	if !exists {
		return fmt.Errorf("plugin %s not loaded", name)
	}

	pm.hostFunctions.Unbind(name)
	if err := pm.runtime.UnloadModule(plugin.Module); err != nil {
		return fmt.Errorf("failed to unload module: %w", err)
	}

	slog.Info("Plugin unloaded", "name", name)
	return nil
}

// ReloadPlugin reloads a specific plugin by name
func (pm *PluginManager) ReloadPlugin(name string) error {
	slog.Info("Reloading plugin...", "name", name)

	plugin, err := pm.GetPlugin(name)
	if err != nil {
		return err
	}

	if err := pm.UnloadPlugin(name); err != nil {
		slog.Warn("Failed to unload module during reload", "name", name, "error", err)
	}

	if _, err := pm.LoadPlugin(plugin.Path); err != nil {
		return fmt.Errorf("failed to reload plugin: %w", err)
	}

	slog.Info("✅ Plugin reloaded successfully", "name", name)
	return nil
}

// Close unloads every plugin and closes the runtime
func (pm *PluginManager) Close() error {
	for _, p := range pm.ListPlugins() {
		if err := pm.UnloadPlugin(p.Manifest.Name); err != nil {
			slog.Error("Failed to unload plugin", "name", p.Manifest.Name, "error", err)
		}
	}

	if err := pm.runtime.Close(); err != nil {
		return fmt.Errorf("failed to close runtime: %w", err)
	}
	return nil
}

// LoadAll loads every plugin under the manager's plugin directory.
func (pm *PluginManager) LoadAll() error {
	return pm.LoadPluginsFromDir(pm.pluginDir)
}
