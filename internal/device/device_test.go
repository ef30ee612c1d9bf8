package device

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestCPUBackend_TensorOps(t *testing.T) {
	backend := NewCPUBackend()

	t.Run("Add", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		b := backend.NewTensor(2, 2, []float32{10, 20, 30, 40})

		a.Add(b)

		expected := []float32{11, 22, 33, 44}
		data := a.ToHost()

		for i, v := range expected {
			if math.Abs(float64(data[i]-v)) > 1e-6 {
				t.Errorf("Add mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("Mul", func(t *testing.T) {
		// A: 2x3, B: 3x2 -> C: 2x2
		a := backend.NewTensor(2, 3, []float32{
			1, 2, 3,
			4, 5, 6,
		})
		b := backend.NewTensor(3, 2, []float32{
			7, 8,
			9, 10,
			11, 12,
		})

		c := backend.NewTensor(2, 2, nil)
		c.Mul(a, b)

		expected := []float32{58, 64, 139, 154}
		data := c.ToHost()

		for i, v := range expected {
			if math.Abs(float64(data[i]-v)) > 1e-5 {
				t.Errorf("Mul mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("MulTransposed", func(t *testing.T) {
		a := backend.NewTensor(3, 2, []float32{
			1, 4,
			2, 5,
			3, 6,
		})
		b := backend.NewTensor(3, 2, []float32{
			7, 8,
			9, 10,
			11, 12,
		})

		// A^T is 2x3, so A^T * B is 2x2
		c := backend.NewTensor(2, 2, nil)
		c.Mul(a.T(), b)

		expected := []float32{58, 64, 139, 154}
		data := c.ToHost()

		for i, v := range expected {
			if math.Abs(float64(data[i]-v)) > 1e-5 {
				t.Errorf("MulTransposed mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("Scale", func(t *testing.T) {
		a := backend.NewTensor(2, 2, []float32{1, 2, 3, 4})
		a.Scale(2.0)

		expected := []float32{2, 4, 6, 8}
		data := a.ToHost()
		for i, v := range expected {
			if data[i] != v {
				t.Errorf("Scale mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("AddBias", func(t *testing.T) {
		a := backend.NewTensor(2, 3, []float32{1, 2, 3, 4, 5, 6})
		a.AddBias([]float32{10, 20, 30})

		expected := []float32{11, 22, 33, 14, 25, 36}
		data := a.ToHost()
		for i, v := range expected {
			if data[i] != v {
				t.Errorf("AddBias mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("Gather", func(t *testing.T) {
		a := backend.NewTensor(3, 2, []float32{1, 2, 3, 4, 5, 6})
		g := a.Gather([]int{2, 0})

		expected := []float32{5, 6, 1, 2}
		data := g.ToHost()
		for i, v := range expected {
			if data[i] != v {
				t.Errorf("Gather mismatch at %d: got %f, want %f", i, data[i], v)
			}
		}
	})

	t.Run("Softmax", func(t *testing.T) {
		a := backend.NewTensor(2, 3, []float32{1, 2, 3, 0, 0, 0})
		a.Softmax()

		data := a.ToHost()
		for r := 0; r < 2; r++ {
			var sum float32
			for c := 0; c < 3; c++ {
				sum += data[r*3+c]
			}
			if math.Abs(float64(sum)-1.0) > 1e-4 {
				t.Errorf("Softmax row %d sums to %f", r, sum)
			}
		}
	})

	t.Run("LayerNorm", func(t *testing.T) {
		a := backend.NewTensor(1, 4, []float32{1, 2, 3, 4})
		gamma := []float32{1, 1, 1, 1}
		beta := []float32{0, 0, 0, 0}
		a.LayerNorm(gamma, beta, 1e-12)

		data := a.ToHost()
		var sum float32
		for _, v := range data {
			sum += v
		}
		if math.Abs(float64(sum)) > 1e-4 {
			t.Errorf("LayerNorm row mean should be ~0, sum is %f", sum)
		}
	})
}

// TestMulAgainstGonum cross-checks the BLAS path against gonum's float64
// mat.Dense product on random matrices.
func TestMulAgainstGonum(t *testing.T) {
	backend := NewCPUBackend()
	rng := rand.New(rand.NewSource(42))

	const m, k, n = 7, 13, 5

	aData := make([]float32, m*k)
	bData := make([]float32, k*n)
	aRef := make([]float64, m*k)
	bRef := make([]float64, k*n)
	for i := range aData {
		v := rng.Float64()*2 - 1
		aData[i] = float32(v)
		aRef[i] = v
	}
	for i := range bData {
		v := rng.Float64()*2 - 1
		bData[i] = float32(v)
		bRef[i] = v
	}

	a := backend.NewTensor(m, k, aData)
	b := backend.NewTensor(k, n, bData)
	c := backend.NewTensor(m, n, nil)
	c.Mul(a, b)

	var ref mat.Dense
	ref.Mul(mat.NewDense(m, k, aRef), mat.NewDense(k, n, bRef))

	got := c.ToHost()
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			want := ref.At(i, j)
			if math.Abs(float64(got[i*n+j])-want) > 1e-4 {
				t.Fatalf("Mul(%d,%d) = %f, want %f", i, j, got[i*n+j], want)
			}
		}
	}
}

func TestTensorPoolReuse(t *testing.T) {
	backend := NewCPUBackend()

	a := backend.GetTensor(4, 4)
	a.Set(0, 0, 42)
	backend.PutTensor(a)

	b := backend.GetTensor(4, 4)
	if b.At(0, 0) != 0 {
		t.Errorf("pooled tensor not zeroed, got %f", b.At(0, 0))
	}
}
