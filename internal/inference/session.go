package inference

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrNotInitialized is returned when a session is used after Close.
var ErrNotInitialized = errors.New("onnx session is not initialized")

var (
	envOnce sync.Once
	envErr  error
)

// InitRuntime loads the onnxruntime shared library once per process.
// libraryPath may be empty to use the platform default name.
func InitRuntime(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Session runs a transformer-style ONNX model taking input_ids,
// attention_mask and optionally token_type_ids.
type Session struct {
	session    *ort.DynamicAdvancedSession
	inputs     []string
	output     string
	outputDims int
	hidden     int64
	mu         sync.Mutex
}

// Output is the first model output as a flat row-major tensor.
type Output struct {
	Shape []int64
	Data  []float32
}

// NewSession opens modelPath and binds its first output. The runtime must
// already be initialised with InitRuntime.
func NewSession(modelPath string) (*Session, error) {
	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model %s: %w", modelPath, err)
	}
	if len(outputsInfo) == 0 {
		return nil, fmt.Errorf("model %s declares no outputs", modelPath)
	}

	var inputs []string
	for _, in := range inputsInfo {
		switch in.Name {
		case "input_ids", "attention_mask", "token_type_ids":
			inputs = append(inputs, in.Name)
		default:
			return nil, fmt.Errorf("model %s has unsupported input %q", modelPath, in.Name)
		}
	}

	out := outputsInfo[0]
	s := &Session{
		inputs:     inputs,
		output:     out.Name,
		outputDims: len(out.Dimensions),
	}
	if len(out.Dimensions) > 0 {
		s.hidden = out.Dimensions[len(out.Dimensions)-1]
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputs, []string{out.Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}
	s.session = sess
	return s, nil
}

// HiddenSize is the size of the last output dimension, or -1 when dynamic.
func (s *Session) HiddenSize() int64 { return s.hidden }

// Run feeds a padded batch through the model.
func (s *Session) Run(b Batch) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return Output{}, ErrNotInitialized
	}
	if b.Size == 0 || b.SeqLen == 0 {
		return Output{}, errors.New("empty batch")
	}
	if s.hidden <= 0 {
		return Output{}, fmt.Errorf("output %s has dynamic last dimension", s.output)
	}

	shape := ort.NewShape(int64(b.Size), int64(b.SeqLen))
	var values []ort.Value
	defer func() {
		for _, v := range values {
			_ = v.Destroy()
		}
	}()

	for _, name := range s.inputs {
		var data []int64
		switch name {
		case "input_ids":
			data = b.IDs
		case "attention_mask":
			data = b.AttentionMask
		case "token_type_ids":
			data = b.TypeIDs
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return Output{}, fmt.Errorf("failed to build %s tensor: %w", name, err)
		}
		values = append(values, t)
	}

	// [batch, seq, hidden] for encoders, [batch, labels] for classifiers.
	outShape := ort.NewShape(int64(b.Size), int64(b.SeqLen), s.hidden)
	if s.outputDims == 2 {
		outShape = ort.NewShape(int64(b.Size), s.hidden)
	}
	out, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return Output{}, fmt.Errorf("failed to allocate output tensor: %w", err)
	}
	defer out.Destroy()

	if err := s.session.Run(values, []ort.Value{out}); err != nil {
		return Output{}, fmt.Errorf("onnx run: %w", err)
	}

	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())
	return Output{Shape: []int64(outShape), Data: data}, nil
}

// Close releases the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
