package qnn

import (
	"path/filepath"
	"sync"

	"github.com/nvr-ai/edgerunner/logger"
	"github.com/nvr-ai/edgerunner/metrics"
	"github.com/nvr-ai/edgerunner/model"
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// SessionOptions configures how sessions are opened.
type SessionOptions struct {
	// LibraryDir is prepended to the fixed library file names. Empty means the dynamic
	// loader's search path.
	LibraryDir string
	// CoreAPIVersion is the minimum core API version providers must offer. Zero means
	// api.CoreAPIVersion.
	CoreAPIVersion api.Version
	// SystemAPIVersion is the minimum system API version. Zero means api.SystemAPIVersion.
	SystemAPIVersion api.Version
	// VersionMode decides how unknown record version tags are treated.
	VersionMode api.VersionMode
	// Allocator is the heap records and tensor buffers exchanged with the runtime are
	// allocated from. Nil means memory.Default.
	Allocator memory.Allocator
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.CoreAPIVersion == (api.Version{}) {
		o.CoreAPIVersion = api.CoreAPIVersion
	}
	if o.SystemAPIVersion == (api.Version{}) {
		o.SystemAPIVersion = api.SystemAPIVersion
	}
	if o.Allocator == nil {
		o.Allocator = memory.Default
	}
	return o
}

// BackendLibrary returns the library file name that drives delegate.
func BackendLibrary(delegate model.Delegate) (string, error) {
	switch delegate {
	case model.CPU:
		return api.LibraryCPU, nil
	case model.GPU:
		return api.LibraryGPU, nil
	case model.NPU:
		return api.LibraryHTP, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedDelegate, "%s", delegate)
	}
}

// BackendID returns the backend id a library for delegate must report.
func BackendID(delegate model.Delegate) (api.BackendID, error) {
	switch delegate {
	case model.CPU:
		return api.BackendIDCPU, nil
	case model.GPU:
		return api.BackendIDGPU, nil
	case model.NPU:
		return api.BackendIDHTP, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedDelegate, "%s", delegate)
	}
}

// Session is an initialized backend: its library, function table, log, backend and device
// handles and, on the NPU, its power configuration. It also caches the system library once
// a context binary has been restored through it.
type Session struct {
	mu       sync.Mutex
	loader   api.Loader
	delegate model.Delegate
	opts     SessionOptions

	lib       api.Library
	iface     api.Interface
	backendID api.BackendID
	log       api.LogHandle
	backend   api.BackendHandle
	device    api.DeviceHandle

	perf          *api.PerfInfrastructure
	powerConfigID uint32
	hasPowerID    bool

	systemLib api.Library
	system    *api.SystemInterface

	closed bool
}

// OpenSession loads the backend library for delegate and brings it up.
//
// Order of operations:
//  1. Library: the fixed file name for the delegate is opened through loader.
//  2. Providers: every provider must carry a compatible core API version.
//  3. Backend id: the provider must drive the requested hardware.
//  4. Log, backend and device: created in that order; the backend must know the device
//     property group and the device entry point is required.
//  5. Power: on the NPU a performance power configuration is applied.
//
// Any failure tears down whatever was created so far.
//
// Arguments:
//   - loader: Opens shared libraries.
//   - delegate: The hardware to drive.
//   - opts: Library location, API versions and allocator.
//
// Returns:
//   - *Session: The ready session.
//   - error: An error naming the failing step.
func OpenSession(loader api.Loader, delegate model.Delegate, opts SessionOptions) (*Session, error) {
	s := &Session{loader: loader, delegate: delegate, opts: opts.withDefaults()}
	if err := s.open(); err != nil {
		s.teardown()
		return nil, err
	}
	metrics.SessionsOpen.WithLabelValues(delegate.String()).Inc()
	logger.Log.Debug("backend session opened", "delegate", delegate, "backend_id", s.backendID)
	return s, nil
}

func (s *Session) path(name string) string {
	if s.opts.LibraryDir == "" {
		return name
	}
	return filepath.Join(s.opts.LibraryDir, name)
}

func (s *Session) open() error {
	name, err := BackendLibrary(s.delegate)
	if err != nil {
		return err
	}
	wantID, err := BackendID(s.delegate)
	if err != nil {
		return err
	}

	s.lib, err = s.loader.Open(s.path(name))
	if err != nil {
		return errors.Wrapf(api.ErrLibraryLoad, "%s: %v", name, err)
	}

	getProviders, err := api.LookupAs[api.InterfaceProvidersFn](s.lib, api.SymbolInterfaceProviders)
	if err != nil {
		return err
	}
	providers, rc := getProviders()
	if err := api.Check(api.SymbolInterfaceProviders, rc); err != nil {
		return err
	}
	if len(providers) == 0 {
		return errors.Wrap(ErrNoProviders, name)
	}

	for i, p := range providers {
		if p == nil {
			return errors.Wrapf(ErrNoProviders, "%s: provider %d is nil", name, i)
		}
		if !p.CoreAPIVersion.Compatible(s.opts.CoreAPIVersion) {
			return errors.Wrapf(ErrAPIVersion, "%s provider %q offers %s, need %s",
				name, p.ProviderName, p.CoreAPIVersion, s.opts.CoreAPIVersion)
		}
		s.iface = p.Interface
		s.backendID = p.BackendID
	}

	if s.backendID != wantID {
		return errors.Wrapf(ErrBackendMismatch, "%s reports %s, %s needs %s", name, s.backendID, s.delegate, wantID)
	}

	if err := s.createLog(); err != nil {
		return err
	}
	if err := s.createBackend(); err != nil {
		return err
	}
	if err := s.createDevice(); err != nil {
		return err
	}
	if s.delegate == model.NPU {
		if err := s.setPowerConfig(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) createLog() error {
	if s.iface.LogCreate == nil {
		return errors.Wrap(ErrMissingEntryPoint, "logCreate")
	}
	h, rc := s.iface.LogCreate(VendorLog, api.LogLevelError)
	if err := api.Check("logCreate", rc); err != nil {
		return err
	}
	s.log = h
	return nil
}

func (s *Session) createBackend() error {
	if s.iface.BackendCreate == nil {
		return errors.Wrap(ErrMissingEntryPoint, "backendCreate")
	}
	h, rc := s.iface.BackendCreate(s.log, NewConfigList[api.BackendConfig, struct{}]().Pointers())
	if err := api.Check("backendCreate", rc); err != nil {
		return err
	}
	s.backend = h
	return nil
}

func (s *Session) createDevice() error {
	if s.iface.PropertyHasCapability != nil {
		if rc := s.iface.PropertyHasCapability(api.PropertyGroupDevice); rc == api.PropertyErrorUnknownKey {
			return errors.Wrap(ErrDeviceUnsupported, s.delegate.String())
		}
	}
	if s.iface.DeviceCreate == nil {
		return errors.Wrap(ErrMissingEntryPoint, "deviceCreate")
	}
	h, rc := s.iface.DeviceCreate(s.log, NewConfigList[api.DeviceConfig, struct{}]().Pointers())
	if err := api.Check("deviceCreate", rc); err != nil {
		return err
	}
	s.device = h
	return nil
}

// PerformancePowerConfig returns the DCVS v3 payload that pins the NPU at its highest
// voltage corners with sleep disabled.
func PerformancePowerConfig(powerConfigID uint32) api.PowerConfig {
	return api.PowerConfig{
		Option: api.PowerConfigOptionDcvsV3,
		DcvsV3Config: api.DcvsV3{
			ContextID:               powerConfigID,
			SetDcvsEnable:           1,
			DcvsEnable:              0,
			PowerMode:               api.PowerModePerformanceMode,
			SetSleepLatency:         1,
			SleepLatency:            40,
			SetSleepDisable:         1,
			SleepDisable:            1,
			SetBusParams:            1,
			BusVoltageCornerMin:     api.VoltageCornerMax,
			BusVoltageCornerTarget:  api.VoltageCornerMax,
			BusVoltageCornerMax:     api.VoltageCornerMax,
			SetCoreParams:           1,
			CoreVoltageCornerMin:    api.VoltageCornerMax,
			CoreVoltageCornerTarget: api.VoltageCornerMax,
			CoreVoltageCornerMax:    api.VoltageCornerMax,
		},
	}
}

func (s *Session) setPowerConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.iface.DeviceGetInfrastructure == nil {
		return errors.Wrap(ErrMissingEntryPoint, "deviceGetInfrastructure")
	}
	infra, rc := s.iface.DeviceGetInfrastructure()
	if err := api.Check("deviceGetInfrastructure", rc); err != nil {
		return err
	}
	if infra == nil {
		return errors.Wrap(ErrMissingEntryPoint, "device infrastructure")
	}
	perf := &infra.PerfInfra
	if perf.CreatePowerConfigID == nil || perf.SetPowerConfig == nil {
		return errors.Wrap(ErrMissingEntryPoint, "perf infrastructure")
	}
	s.perf = perf

	id, rc := perf.CreatePowerConfigID(0, 0)
	if err := api.Check("createPowerConfigId", rc); err != nil {
		return err
	}
	s.powerConfigID = id
	s.hasPowerID = true

	list := NewConfigList[api.PowerConfig, struct{}]()
	list.Add(PerformancePowerConfig(id))
	return api.Check("setPowerConfig", perf.SetPowerConfig(id, list.Pointers()))
}

// LoadSystemLibrary loads the system library on first use and returns its function table.
// The first provider with a compatible system API version is taken.
func (s *Session) LoadSystemLibrary() (*api.SystemInterface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.system != nil {
		return s.system, nil
	}

	lib, err := s.loader.Open(s.path(api.LibrarySystem))
	if err != nil {
		return nil, errors.Wrapf(api.ErrLibraryLoad, "%s: %v", api.LibrarySystem, err)
	}

	system, err := s.systemInterface(lib)
	if err != nil {
		logger.Log.Errors("closing system library", lib.Close())
		return nil, err
	}

	s.systemLib = lib
	s.system = system
	return system, nil
}

func (s *Session) systemInterface(lib api.Library) (*api.SystemInterface, error) {
	getProviders, err := api.LookupAs[api.SystemInterfaceProvidersFn](lib, api.SymbolSystemInterfaceProviders)
	if err != nil {
		return nil, err
	}
	providers, rc := getProviders()
	if err := api.Check(api.SymbolSystemInterfaceProviders, rc); err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, errors.Wrap(ErrNoProviders, api.LibrarySystem)
	}
	for _, p := range providers {
		if p != nil && p.SystemAPIVersion.Compatible(s.opts.SystemAPIVersion) {
			iface := p.Interface
			return &iface, nil
		}
	}
	return nil, errors.Wrapf(ErrAPIVersion, "%s: no provider offers %s", api.LibrarySystem, s.opts.SystemAPIVersion)
}

// Delegate returns the hardware the session drives.
func (s *Session) Delegate() model.Delegate { return s.delegate }

// Interface returns the backend function table.
func (s *Session) Interface() *api.Interface { return &s.iface }

// Backend returns the backend handle.
func (s *Session) Backend() api.BackendHandle { return s.backend }

// Device returns the device handle.
func (s *Session) Device() api.DeviceHandle { return s.device }

// Allocator returns the heap exchanged records are allocated from.
func (s *Session) Allocator() memory.Allocator { return s.opts.Allocator }

// VersionMode returns how unknown record versions are treated.
func (s *Session) VersionMode() api.VersionMode { return s.opts.VersionMode }

// Loader returns the loader model libraries are opened with.
func (s *Session) Loader() api.Loader { return s.loader }

// Close tears the session down in reverse order of creation. Teardown errors are logged.
// Later calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.teardown()
	metrics.SessionsOpen.WithLabelValues(s.delegate.String()).Dec()
	logger.Log.Debug("backend session closed", "delegate", s.delegate)
	return nil
}

func (s *Session) teardown() {
	if s.hasPowerID && s.perf != nil && s.perf.DestroyPowerConfigID != nil {
		logger.Log.Errors("destroying power config", api.Check("destroyPowerConfigId", s.perf.DestroyPowerConfigID(s.powerConfigID)))
	}
	s.hasPowerID = false
	s.perf = nil

	if s.systemLib != nil {
		logger.Log.Errors("closing system library", s.systemLib.Close())
		s.systemLib = nil
		s.system = nil
	}

	if s.device != 0 && s.iface.DeviceFree != nil {
		logger.Log.Errors("freeing device", api.Check("deviceFree", s.iface.DeviceFree(s.device)))
	}
	s.device = 0

	if s.backend != 0 && s.iface.BackendFree != nil {
		logger.Log.Errors("freeing backend", api.Check("backendFree", s.iface.BackendFree(s.backend)))
	}
	s.backend = 0

	if s.log != 0 && s.iface.LogFree != nil {
		logger.Log.Errors("freeing log", api.Check("logFree", s.iface.LogFree(s.log)))
	}
	s.log = 0

	if s.lib != nil {
		logger.Log.Errors("closing backend library", s.lib.Close())
		s.lib = nil
	}
	s.iface = api.Interface{}
}

// VendorLog forwards runtime log messages to the process logger.
func VendorLog(level api.LogLevel, timestamp uint64, msg string) {
	logger.Log.Vendor(vendorLevel(level), timestamp, msg)
}

func vendorLevel(level api.LogLevel) zerolog.Level {
	switch level {
	case api.LogLevelError:
		return zerolog.ErrorLevel
	case api.LogLevelWarn:
		return zerolog.WarnLevel
	case api.LogLevelInfo:
		return zerolog.InfoLevel
	case api.LogLevelDebug:
		return zerolog.DebugLevel
	case api.LogLevelVerbose:
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
