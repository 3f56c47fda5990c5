package compressor

// Workload is the pluggable per-frame processing stage.
type Workload interface {
	Name() string
	// Descriptor declares the resources the workload needs. It is called
	// once, before the first frame.
	Descriptor() WorkloadDescriptor
	// Record records the frame's commands. res is only valid during the
	// call.
	Record(rec CommandRecorder, res FrameResources)
}

// Initializer is implemented by workloads that upload shared data once
// before the first frame. res holds shared resources only.
type Initializer interface {
	Initialize(rec CommandRecorder, res FrameResources)
}

// Destroyer is implemented by workloads holding state outside the pool.
type Destroyer interface {
	Destroy()
}
