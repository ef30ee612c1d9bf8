package device

// Tensor is a 2-D row-major array of float32 resident on a compute
// backend. Higher-rank activations (batch, seq, hidden) are carried
// flattened as (batch*seq, hidden); the model layers keep track of the
// logical shape.
type Tensor interface {
	// Dims returns the dimensions (rows, cols) of the tensor.
	Dims() (int, int)

	// At returns the value at (i, j).
	// Slow; intended for tests and infrequent access.
	At(i, j int) float32

	// Set sets the value at (i, j).
	Set(i, j int, v float32)

	// Data returns the underlying slice when the tensor is host-visible
	// and contiguous in logical order, nil otherwise (transposed views).
	Data() []float32

	// ToHost copies the data to a fresh Go slice in logical order.
	ToHost() []float32

	// CopyFrom copies data from a Go slice into the tensor.
	CopyFrom(data []float32)

	// Copy copies content from another tensor of the same dimensions.
	Copy(from Tensor)

	// Slice copies the sub-block rows [i,k) x cols [j,l) into a new tensor.
	Slice(i, k, j, l int) Tensor

	// T returns a transposed view sharing the underlying data.
	T() Tensor

	// Mul performs matrix multiplication: t = a * b.
	Mul(a, b Tensor)

	// Add performs element-wise addition: t += other.
	Add(other Tensor)

	// Scale performs t *= val.
	Scale(val float32)

	// AddBias adds a bias vector to every row. len(bias) must equal cols.
	AddBias(bias []float32)

	// Row-wise in-place activations.
	Softmax()
	Gelu()
	Relu()
	Tanh()

	// LayerNorm normalizes every row in-place with learned gain/shift.
	LayerNorm(gamma, beta []float32, eps float32)

	// Gather collects rows by index into a new tensor.
	Gather(indices []int) Tensor

	// ExtractTo splits the tensor row-by-row into a pre-allocated slice
	// of slices, starting at destination[startRow].
	ExtractTo(destination [][]float32, startRow int)
}

// Backend creates tensors and manages scratch memory.
type Backend interface {
	Name() string
	NewTensor(r, c int, data []float32) Tensor

	// GetTensor gets a zeroed tensor from the pool or allocates one.
	GetTensor(r, c int) Tensor

	// PutTensor returns a tensor to the pool.
	PutTensor(t Tensor)
}
