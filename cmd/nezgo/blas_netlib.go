//go:build netlib

package main

// Built with -tags netlib this registers the system BLAS (Accelerate
// on macOS, OpenBLAS on Linux) for all single-precision matmuls. The
// default build uses gonum's pure Go implementation.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas32.Use(netlib.Implementation{})
	log.Debug().Msg("CGO/BLAS acceleration enabled (netlib)")
}
