package filters

import "fmt"

// PredictorParams hold the /DecodeParms entries that govern
// predictor-coded flate data. Zero values take the format defaults:
// one color component, 8 bits per component, one column.
type PredictorParams struct {
	Predictor        int
	Colors           int
	BitsPerComponent int
	Columns          int
}

// Decode undoes the predictor transformation applied before
// compression. Predictor values of 1 or less return the data
// unchanged, 2 undoes TIFF horizontal differencing, and 10 through 15
// undo the per-row PNG filters named by each row's tag byte.
func (p PredictorParams) Decode(data []byte) ([]byte, error) {
	if p.Predictor <= 1 {
		return data, nil
	}
	colors := p.Colors
	if colors <= 0 {
		colors = 1
	}
	bpc := p.BitsPerComponent
	if bpc <= 0 {
		bpc = 8
	}
	columns := p.Columns
	if columns <= 0 {
		columns = 1
	}
	rowLen := (colors*bpc*columns + 7) / 8

	if p.Predictor == 2 {
		if bpc != 8 {
			return nil, fmt.Errorf("predictor: TIFF differencing needs 8 bits per component, got %d", bpc)
		}
		if rowLen == 0 || len(data)%rowLen != 0 {
			return nil, fmt.Errorf("predictor: data length %d does not divide into %d-byte rows", len(data), rowLen)
		}
		out := make([]byte, len(data))
		copy(out, data)
		for row := 0; row < len(out); row += rowLen {
			for i := colors; i < rowLen; i++ {
				out[row+i] += out[row+i-colors]
			}
		}
		return out, nil
	}
	if p.Predictor < 10 || p.Predictor > 15 {
		return nil, fmt.Errorf("predictor: unsupported /Predictor %d", p.Predictor)
	}

	// PNG rows carry a filter tag byte each; the declared predictor
	// value only picks the family, the tag picks the row's filter.
	bpp := (colors*bpc + 7) / 8
	if len(data)%(rowLen+1) != 0 {
		return nil, fmt.Errorf("predictor: data length %d does not divide into %d-byte tagged rows", len(data), rowLen+1)
	}
	rows := len(data) / (rowLen + 1)
	out := make([]byte, 0, rows*rowLen)
	prev := make([]byte, rowLen)
	cur := make([]byte, rowLen)
	for r := 0; r < rows; r++ {
		tag := data[r*(rowLen+1)]
		copy(cur, data[r*(rowLen+1)+1:(r+1)*(rowLen+1)])
		switch tag {
		case 0: // None
		case 1: // Sub
			for i := bpp; i < rowLen; i++ {
				cur[i] += cur[i-bpp]
			}
		case 2: // Up
			for i := 0; i < rowLen; i++ {
				cur[i] += prev[i]
			}
		case 3: // Average
			for i := 0; i < rowLen; i++ {
				left := 0
				if i >= bpp {
					left = int(cur[i-bpp])
				}
				cur[i] += byte((left + int(prev[i])) / 2)
			}
		case 4: // Paeth
			for i := 0; i < rowLen; i++ {
				var left, upLeft byte
				if i >= bpp {
					left = cur[i-bpp]
					upLeft = prev[i-bpp]
				}
				cur[i] += paeth(left, prev[i], upLeft)
			}
		default:
			return nil, fmt.Errorf("predictor: unknown PNG filter tag %d in row %d", tag, r)
		}
		out = append(out, cur...)
		prev, cur = cur, prev
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := intAbs(p-int(a)), intAbs(p-int(b)), intAbs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func intAbs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
