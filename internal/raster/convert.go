package raster

import (
	"fmt"
	"math"
)

// ConvertToDB converts backscatter from the linear power domain to decibel
// in place. Non-positive values are clipped to a small epsilon first so the
// logarithm stays finite.
func ConvertToDB(data []float32) {
	for i, v := range data {
		if v < 1e-13 {
			v = 1e-13
		}
		data[i] = float32(10 * math.Log10(float64(v)))
	}
}

// ScaleToInt stretches float data into the display range of an integer
// data type. Zero stays reserved for nodata; valid values map onto
// [1, max]. The stretch matches the inverse applied by RescaleToFloat.
func ScaleToInt(data []float32, minValue, maxValue float64, dtype string) error {
	var displayMax float64
	switch dtype {
	case "uint8":
		displayMax = 255
	case "uint16":
		displayMax = 65535
	default:
		return fmt.Errorf("unsupported integer data type %q", dtype)
	}

	a := minValue - (maxValue-minValue)/(displayMax-1)
	x := (maxValue - minValue) / (displayMax - 1)

	for i, v := range data {
		f := float64(v)
		if math.IsNaN(f) {
			data[i] = 0
			continue
		}
		if f > maxValue {
			f = maxValue
		}
		if f < minValue {
			f = minValue
		}
		data[i] = float32(math.Round((f - a) / x))
	}
	return nil
}

// UnscaleFromInt inverts ScaleToInt for the given value range. Zero is
// treated as nodata and becomes NaN.
func UnscaleFromInt(data []float32, minValue, maxValue float64, dtype string) error {
	var displayMax float64
	switch dtype {
	case "uint8":
		displayMax = 255
	case "uint16":
		displayMax = 65535
	default:
		return fmt.Errorf("unsupported integer data type %q", dtype)
	}

	a := minValue - (maxValue-minValue)/(displayMax-1)
	x := (maxValue - minValue) / (displayMax - 1)

	for i, v := range data {
		if v == 0 {
			data[i] = float32(math.NaN())
			continue
		}
		data[i] = float32(float64(v)*x + a)
	}
	return nil
}

// RescaleToFloat converts integer-stretched dB data back to float dB
// values. Zero is treated as nodata and becomes NaN.
func RescaleToFloat(data []float32, dtype string) error {
	var a float64
	switch dtype {
	case "uint8":
		a = 35.0 / 254.0
	case "uint16":
		a = 35.0 / 65535.0
	default:
		return fmt.Errorf("unsupported integer data type %q", dtype)
	}
	b := -30.0 - a

	for i, v := range data {
		if v == 0 {
			data[i] = float32(math.NaN())
			continue
		}
		data[i] = float32(float64(v)*a + b)
	}
	return nil
}
