package compute

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/cobalt-gpu/cobalt/vk"
)

// Pipeline is a compute pipeline authored to the persistent-descriptor
// convention: Set 0 holds the storage buffers, parameters arrive as push
// constants.
type Pipeline struct {
	ctx          *Context
	module       vk.ShaderModule
	layout       vk.PipelineLayout
	setLayout    vk.DescriptorSetLayout
	pipeline     vk.Pipeline
	bindingCount uint32
	pushSize     uint32
}

// PipelineOptions describe a pipeline to create.
type PipelineOptions struct {
	// SPIRV is the shader blob. Opaque to the core; length must be a
	// multiple of four.
	SPIRV []byte
	// EntryPoint defaults to "main".
	EntryPoint string
	// BindingCount is the number of storage buffers at Set 0.
	BindingCount uint32
	// PushConstantSize is the per-dispatch parameter block size in bytes.
	// Validated against the device budget here, not at dispatch.
	PushConstantSize uint32
}

// NewPipeline builds the layout chain and the compute pipeline.
func (c *Context) NewPipeline(options PipelineOptions) (*Pipeline, error) {
	if len(options.SPIRV) == 0 || len(options.SPIRV)%4 != 0 {
		return nil, errors.Newf("SPIR-V blob length %d is not a positive multiple of 4", len(options.SPIRV))
	}
	if options.BindingCount == 0 {
		return nil, errors.New("pipeline needs at least one storage binding")
	}
	if err := c.descriptors.CheckPushConstantSize(options.PushConstantSize); err != nil {
		return nil, err
	}
	entryPoint := options.EntryPoint
	if entryPoint == "" {
		entryPoint = "main"
	}

	commands := c.device.Commands

	setLayout, err := c.descriptors.PersistentLayout(options.BindingCount)
	if err != nil {
		return nil, err
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    &setLayout,
	}
	var pushRange vk.PushConstantRange
	if options.PushConstantSize > 0 {
		pushRange = vk.PushConstantRange{
			StageFlags: vk.ShaderStageCompute,
			Offset:     0,
			Size:       options.PushConstantSize,
		}
		layoutInfo.PushConstantRangeCount = 1
		layoutInfo.PPushConstantRanges = &pushRange
	}
	var layout vk.PipelineLayout
	if err := commands.CreatePipelineLayout(c.device.Handle, &layoutInfo, nil, &layout).Err(); err != nil {
		return nil, errors.Wrap(err, "creating pipeline layout")
	}

	moduleInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uintptr(len(options.SPIRV)),
		PCode:    (*uint32)(unsafe.Pointer(&options.SPIRV[0])),
	}
	var module vk.ShaderModule
	result := commands.CreateShaderModule(c.device.Handle, &moduleInfo, nil, &module)
	runtime.KeepAlive(options.SPIRV)
	if err := result.Err(); err != nil {
		commands.DestroyPipelineLayout(c.device.Handle, layout, nil)
		return nil, errors.Wrap(err, "creating shader module")
	}

	entryName := vk.CString(entryPoint)
	pipelineInfo := vk.ComputePipelineCreateInfo{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageCompute,
			Module: module,
			PName:  entryName,
		},
		Layout:            layout,
		BasePipelineIndex: -1,
	}
	var pipeline vk.Pipeline
	result = commands.CreateComputePipelines(c.device.Handle, 0, 1, &pipelineInfo, nil, &pipeline)
	runtime.KeepAlive(entryName)
	if err := result.Err(); err != nil {
		commands.DestroyShaderModule(c.device.Handle, module, nil)
		commands.DestroyPipelineLayout(c.device.Handle, layout, nil)
		return nil, errors.Wrap(err, "creating compute pipeline")
	}

	return &Pipeline{
		ctx:          c,
		module:       module,
		layout:       layout,
		setLayout:    setLayout,
		pipeline:     pipeline,
		bindingCount: options.BindingCount,
		pushSize:     options.PushConstantSize,
	}, nil
}

// Handle returns the native pipeline handle.
func (p *Pipeline) Handle() vk.Pipeline { return p.pipeline }

// Layout returns the pipeline layout handle.
func (p *Pipeline) Layout() vk.PipelineLayout { return p.layout }

// Destroy releases the pipeline chain. The descriptor set layout belongs to
// the descriptor manager and survives.
func (p *Pipeline) Destroy() {
	if p.pipeline == 0 {
		return
	}
	commands := p.ctx.device.Commands
	commands.DestroyPipeline(p.ctx.device.Handle, p.pipeline, nil)
	commands.DestroyShaderModule(p.ctx.device.Handle, p.module, nil)
	commands.DestroyPipelineLayout(p.ctx.device.Handle, p.layout, nil)
	p.pipeline = 0
}
