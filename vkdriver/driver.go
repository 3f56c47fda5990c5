// Package vkdriver implements the compressor Driver and Presenter over
// vulkan-go.
package vkdriver

import (
	"log/slog"
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/compressor"
	"github.com/andewx/compressor/memory"
)

const (
	validationLayer   = "VK_LAYER_KHRONOS_validation"
	debugReportExt    = "VK_EXT_debug_report"
	debugMarkerExt    = "VK_EXT_debug_marker"
	swapchainExt      = "VK_KHR_swapchain"
	portabilityExt    = "VK_KHR_portability_enumeration"
	portabilitySubset = "VK_KHR_portability_subset"

	// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	enumeratePortabilityBit = 0x00000001

	defaultBlockSize = 64 << 20
)

// Options configures a Driver before Open.
type Options struct {
	// ProcAddr is the loader entry point from the windowing library. Nil
	// uses the system loader.
	ProcAddr unsafe.Pointer
	// InstanceExtensions are required by the window system.
	InstanceExtensions []string
	// Surface creates the presentation surface. It is required unless the
	// device is opened headless.
	Surface func(instance vk.Instance) (vk.Surface, error)
	// BlockSize is the size of the device memory blocks resources are
	// sub-allocated from.
	BlockSize uint64
}

// Driver owns the Vulkan instance, the logical device and its queues.
type Driver struct {
	opts Options
	log  *slog.Logger

	instance      vk.Instance
	debugCallback vk.DebugReportCallback
	surface       vk.Surface
	// object names reach the validation layers
	debugMarker bool

	gpu      vk.PhysicalDevice
	gpuProps vk.PhysicalDeviceProperties
	memProps vk.PhysicalDeviceMemoryProperties
	device   vk.Device

	families      map[compressor.QueueKind]uint32
	presentFamily uint32
	queues        map[uint32]vk.Queue
	cmdPools      map[uint32]vk.CommandPool

	heaps map[heapKey]*memory.Pool[*deviceBlock]
}

var _ compressor.Driver = (*Driver)(nil)

func New(opts Options) *Driver {
	if opts.BlockSize == 0 {
		opts.BlockSize = defaultBlockSize
	}
	return &Driver{
		opts:     opts,
		log:      compressor.Logger().With("component", "vulkan"),
		families: make(map[compressor.QueueKind]uint32),
		queues:   make(map[uint32]vk.Queue),
		cmdPools: make(map[uint32]vk.CommandPool),
		heaps:    make(map[heapKey]*memory.Pool[*deviceBlock]),
	}
}

// Open creates the instance, selects a GPU and creates the logical device.
func (d *Driver) Open(req compressor.Requirements) (info compressor.DeviceInfo, err error) {
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	if err := d.load(); err != nil {
		return info, err
	}
	if err := d.createInstance(req); err != nil {
		return info, err
	}

	if !req.Headless {
		if d.opts.Surface == nil {
			return info, errors.New("vulkan: surface required but not provided")
		}
		if d.surface, err = d.opts.Surface(d.instance); err != nil {
			return info, errors.Wrap(err, "create surface")
		}
		if d.surface == vk.NullSurface {
			return info, errors.New("vulkan: surface required but not provided")
		}
	}

	deviceExts := append([]string(nil), req.Extensions...)
	if !req.Headless {
		deviceExts = merge(deviceExts, swapchainExt)
	}
	cand, err := d.pickDevice(req, deviceExts)
	if err != nil {
		return info, err
	}
	if req.Validation && d.debugCallback != vk.NullDebugReportCallback {
		if actual, err := DeviceExtensions(cand.gpu); err == nil {
			if have, _ := checkExisting(actual, []string{debugMarkerExt}); len(have) > 0 {
				deviceExts = merge(deviceExts, debugMarkerExt)
				d.debugMarker = true
			}
		}
	}
	if err := d.createDevice(cand, deviceExts, req); err != nil {
		return info, err
	}

	info = compressor.DeviceInfo{
		Name:          vk.ToString(d.gpuProps.DeviceName[:]),
		Type:          deviceType(d.gpuProps.DeviceType),
		Families:      make(map[compressor.QueueKind]uint32, len(d.families)),
		PresentFamily: d.presentFamily,
	}
	for k, v := range d.families {
		info.Families[k] = v
	}
	return info, nil
}

// load points vulkan-go at the loader.
func (d *Driver) load() error {
	if d.opts.ProcAddr != nil {
		vk.SetGetInstanceProcAddr(d.opts.ProcAddr)
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return errors.Wrap(compressor.ErrNoDevice, err.Error())
	}
	if err := vk.Init(); err != nil {
		return errors.Wrap(compressor.ErrNoDevice, err.Error())
	}
	return nil
}

func (d *Driver) createInstance(req compressor.Requirements) error {
	actual, err := InstanceExtensions()
	if err != nil {
		return err
	}
	instanceExts, missing := checkExisting(actual, d.opts.InstanceExtensions)
	if len(missing) > 0 {
		return &compressor.DeviceInitError{Missing: missing, Err: compressor.ErrFeatureNotPresent}
	}
	var flags vk.InstanceCreateFlags
	if exts, _ := checkExisting(actual, []string{portabilityExt}); len(exts) > 0 {
		instanceExts = merge(instanceExts, portabilityExt)
		flags |= vk.InstanceCreateFlags(enumeratePortabilityBit)
	}

	var layers []string
	debug := false
	if req.Validation {
		available, err := ValidationLayers()
		if err != nil {
			return err
		}
		var missingLayers []string
		layers, missingLayers = checkExisting(available, []string{validationLayer})
		if len(missingLayers) > 0 {
			d.log.Warn("validation layers missing", "layers", missingLayers)
		}
		if exts, _ := checkExisting(actual, []string{debugReportExt}); len(exts) > 0 {
			instanceExts = merge(instanceExts, debugReportExt)
			debug = true
		}
	}
	d.log.Info("enabling instance extensions", "count", len(instanceExts), "layers", layers)

	appName := req.AppName
	if appName == "" {
		appName = "compressor"
	}
	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   safeString(appName),
			PEngineName:        safeString("compressor"),
		},
		Flags:                   flags,
		EnabledExtensionCount:   uint32(len(instanceExts)),
		PpEnabledExtensionNames: safeStrings(instanceExts),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}, nil, &instance)
	if isError(ret) {
		return newError(ret)
	}
	d.instance = instance
	vk.InitInstance(instance)

	if debug {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}, nil, &d.debugCallback)
		if isError(ret) {
			return newError(ret)
		}
		d.log.Info("debug report callback enabled")
	}
	return nil
}

type candidate struct {
	gpu      vk.PhysicalDevice
	props    vk.PhysicalDeviceProperties
	families map[compressor.QueueKind]uint32
	present  uint32
	subset   bool
}

// pickDevice returns the first GPU with every required extension, feature
// and queue role, preferring discrete GPUs when asked.
func (d *Driver) pickDevice(req compressor.Requirements, exts []string) (candidate, error) {
	var gpuCount uint32
	if ret := vk.EnumeratePhysicalDevices(d.instance, &gpuCount, nil); isError(ret) {
		return candidate{}, newError(ret)
	}
	if gpuCount == 0 {
		return candidate{}, errors.Wrap(compressor.ErrNoDevice, "vulkan: no GPU devices found")
	}
	gpus := make([]vk.PhysicalDevice, gpuCount)
	if ret := vk.EnumeratePhysicalDevices(d.instance, &gpuCount, gpus); isError(ret) {
		return candidate{}, newError(ret)
	}

	var (
		suitable []candidate
		missing  []string
	)
	for _, gpu := range gpus {
		c := candidate{gpu: gpu}
		vk.GetPhysicalDeviceProperties(gpu, &c.props)
		c.props.Deref()
		name := vk.ToString(c.props.DeviceName[:])

		actual, err := DeviceExtensions(gpu)
		if err != nil {
			return candidate{}, err
		}
		if _, miss := checkExisting(actual, exts); len(miss) > 0 {
			d.log.Debug("skipping device", "name", name, "missing_extensions", miss)
			missing = merge(missing, miss...)
			continue
		}
		if _, miss := enabledFeatures(gpu, req.Features); len(miss) > 0 {
			d.log.Debug("skipping device", "name", name, "missing_features", miss)
			missing = merge(missing, miss...)
			continue
		}
		families, present, ok := d.queueFamilies(gpu, req.Headless)
		if !ok {
			d.log.Debug("skipping device", "name", name, "reason", "no suitable queue family")
			continue
		}
		c.families, c.present = families, present
		if sub, _ := checkExisting(actual, []string{portabilitySubset}); len(sub) > 0 {
			c.subset = true
		}
		suitable = append(suitable, c)
	}
	if len(suitable) > 0 {
		if req.PreferDiscrete {
			for _, c := range suitable {
				if c.props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
					return c, nil
				}
			}
		}
		return suitable[0], nil
	}
	if len(missing) > 0 {
		return candidate{}, &compressor.DeviceInitError{Missing: missing, Err: compressor.ErrFeatureNotPresent}
	}
	return candidate{}, errors.Wrap(compressor.ErrNoDevice, "vulkan: no GPU has the required queue families")
}

// queueFamilies assigns a family to every role. Compute and transfer prefer
// dedicated families and fall back to the graphics family.
func (d *Driver) queueFamilies(gpu vk.PhysicalDevice, headless bool) (map[compressor.QueueKind]uint32, uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, props)

	const none = ^uint32(0)
	graphics, compute, transfer, present := none, none, none, none
	for i := uint32(0); i < count; i++ {
		props[i].Deref()
		flags := props[i].QueueFlags
		has := func(bit vk.QueueFlagBits) bool { return flags&vk.QueueFlags(bit) != 0 }

		var supportsPresent vk.Bool32
		if !headless {
			vk.GetPhysicalDeviceSurfaceSupport(gpu, i, d.surface, &supportsPresent)
		}
		switch {
		case has(vk.QueueGraphicsBit):
			// a graphics family that can also present wins
			if graphics == none || (supportsPresent.B() && present != graphics) {
				graphics = i
			}
		case has(vk.QueueComputeBit):
			if compute == none {
				compute = i
			}
		case has(vk.QueueTransferBit):
			if transfer == none {
				transfer = i
			}
		}
		if supportsPresent.B() && (present == none || i == graphics) {
			present = i
		}
	}
	if graphics == none || (!headless && present == none) {
		return nil, 0, false
	}
	if compute == none {
		compute = graphics
	}
	if transfer == none {
		transfer = compute
	}
	if headless {
		present = graphics
	}
	return map[compressor.QueueKind]uint32{
		compressor.QueueGraphics: graphics,
		compressor.QueueCompute:  compute,
		compressor.QueueTransfer: transfer,
	}, present, true
}

func (d *Driver) createDevice(c candidate, exts []string, req compressor.Requirements) error {
	d.gpu = c.gpu
	d.gpuProps = c.props
	d.families = c.families
	d.presentFamily = c.present
	vk.GetPhysicalDeviceMemoryProperties(d.gpu, &d.memProps)
	d.memProps.Deref()

	if c.subset {
		exts = merge(exts, portabilitySubset)
	}
	features, _ := enabledFeatures(d.gpu, req.Features)

	unique := []uint32{}
	for _, f := range append([]uint32{d.presentFamily}, c.families[compressor.QueueGraphics],
		c.families[compressor.QueueCompute], c.families[compressor.QueueTransfer]) {
		dup := false
		for _, u := range unique {
			dup = dup || u == f
		}
		if !dup {
			unique = append(unique, f)
		}
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, 0, len(unique))
	for _, f := range unique {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: f,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	var device vk.Device
	ret := vk.CreateDevice(d.gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: safeStrings(exts),
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
	}, nil, &device)
	if isError(ret) {
		err := newError(ret)
		if errors.Is(err, compressor.ErrFeatureNotPresent) {
			return &compressor.DeviceInitError{Missing: merge(exts, req.Features...), Err: err}
		}
		return err
	}
	d.device = device

	for _, f := range unique {
		var q vk.Queue
		vk.GetDeviceQueue(d.device, f, 0, &q)
		d.queues[f] = q
	}
	d.log.Info("device created", "name", vk.ToString(d.gpuProps.DeviceName[:]),
		"extensions", len(exts), "queue_families", len(unique))
	return nil
}

// enabledFeatures maps feature names onto the core feature struct and
// returns the names the GPU does not support.
func enabledFeatures(gpu vk.PhysicalDevice, names []string) (vk.PhysicalDeviceFeatures, []string) {
	var supported, enabled vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(gpu, &supported)
	supported.Deref()

	var missing []string
	for _, name := range names {
		var have vk.Bool32
		var set *vk.Bool32
		switch name {
		case "samplerAnisotropy":
			have, set = supported.SamplerAnisotropy, &enabled.SamplerAnisotropy
		case "textureCompressionBC":
			have, set = supported.TextureCompressionBC, &enabled.TextureCompressionBC
		case "fillModeNonSolid":
			have, set = supported.FillModeNonSolid, &enabled.FillModeNonSolid
		case "shaderInt64":
			have, set = supported.ShaderInt64, &enabled.ShaderInt64
		case "shaderFloat64":
			have, set = supported.ShaderFloat64, &enabled.ShaderFloat64
		case "independentBlend":
			have, set = supported.IndependentBlend, &enabled.IndependentBlend
		}
		if set == nil || !have.B() {
			missing = append(missing, name)
			continue
		}
		*set = vk.True
	}
	return enabled, missing
}

func (d *Driver) queue(kind compressor.QueueKind) (vk.Queue, uint32) {
	f := d.families[kind]
	return d.queues[f], f
}

// Instance returns the Vulkan instance.
func (d *Driver) Instance() vk.Instance { return d.instance }

// Device returns the logical device.
func (d *Driver) Device() vk.Device { return d.device }

// Surface returns the presentation surface, or vk.NullSurface when headless.
func (d *Driver) Surface() vk.Surface { return d.surface }

// PhysicalDevice returns the selected GPU.
func (d *Driver) PhysicalDevice() vk.PhysicalDevice { return d.gpu }

// MemoryStats sums the sub-allocator pools.
func (d *Driver) MemoryStats() memory.Stats {
	var total memory.Stats
	for _, p := range d.heaps {
		st := p.Stats()
		total.Blocks += st.Blocks
		total.Reserved += st.Reserved
		total.Used += st.Used
		total.Allocations += st.Allocations
	}
	return total
}

func (d *Driver) WaitIdle() error {
	if d.device == nil {
		return nil
	}
	return newError(vk.DeviceWaitIdle(d.device))
}

// Close destroys the device, surface and instance. It is safe after a
// failed Open.
func (d *Driver) Close() {
	if d.device != nil {
		vk.DeviceWaitIdle(d.device)
		for f, pool := range d.cmdPools {
			vk.DestroyCommandPool(d.device, pool, nil)
			delete(d.cmdPools, f)
		}
		for k, p := range d.heaps {
			p.Destroy()
			delete(d.heaps, k)
		}
		vk.DestroyDevice(d.device, nil)
		d.device = nil
		d.debugMarker = false
	}
	if d.surface != vk.NullSurface {
		vk.DestroySurface(d.instance, d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(d.instance, d.debugCallback, nil)
		d.debugCallback = vk.NullDebugReportCallback
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	log := compressor.Logger().With("component", "vulkan", "layer", pLayerPrefix, "code", messageCode)
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		log.Error(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		log.Warn(pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		log.Warn(pMessage, "performance", true)
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		log.Debug(pMessage)
	default:
		log.Info(pMessage)
	}
	return vk.Bool32(vk.False)
}
