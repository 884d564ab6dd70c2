package ctf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateZeroAtOrigin(t *testing.T) {
	c := New(Attr{Voltage: 300000, DefocusU: 10000, DefocusV: 10000, Cs: 2.0})
	assert.InDelta(t, 0, c.Evaluate(0, 0), 1e-5)
}

func TestEvaluateIsotropicIndependentOfAngle(t *testing.T) {
	c := New(Attr{Voltage: 300000, DefocusU: 10000, DefocusV: 10000, Cs: 2.0})
	a := c.Evaluate(0.05, 0)
	b := c.Evaluate(0.05, 1.2)
	assert.InDelta(t, a, b, 1e-5)
}

func TestEvaluateAstigmaticDependsOnAngle(t *testing.T) {
	c := New(Attr{Voltage: 300000, DefocusU: 12000, DefocusV: 8000, DefocusAngle: 0, Cs: 2.0})
	along := c.Evaluate(0.05, 0)
	across := c.Evaluate(0.05, 1.5708)
	assert.NotEqual(t, along, across)
}

func TestEvaluateGridShape(t *testing.T) {
	c := New(Attr{Voltage: 300000, DefocusU: 10000, DefocusV: 10000, Cs: 2.0})
	grid := c.EvaluateGrid(16, 1.0)
	assert.Len(t, grid, (16/2+1)*16)
}

func TestWavelengthDecreasesWithVoltage(t *testing.T) {
	assert.Greater(t, wavelength(100000), wavelength(300000))
}
