// Package specio parses whitespace-separated column files holding spectra
// and templates, with an optional YAML header block.
package specio

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/models"
	"github.com/starford/spamm/internal/spectrum"
)

// Header is the optional metadata block at the top of a column file.
type Header struct {
	Name     string  `yaml:"name"`
	Redshift float64 `yaml:"redshift"`
	Units    string  `yaml:"units"`
}

// Result holds the output of parsing a column file.
type Result struct {
	Header  Header
	Columns [][]float64
}

// Parse extracts the header and numeric columns from raw file bytes.
// Blank lines and lines starting with '#' are skipped. Every data row must
// have the same number of fields as the first one.
func Parse(data []byte) (*Result, error) {
	hdr, body, err := splitHeader(data)
	if err != nil {
		return nil, err
	}

	res := &Result{Header: hdr}
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if res.Columns == nil {
			res.Columns = make([][]float64, len(fields))
		}
		if len(fields) != len(res.Columns) {
			return nil, fmt.Errorf("specio: line %d: %d fields, want %d: %w",
				lineNo, len(fields), len(res.Columns), apperr.ErrInvalidConfig)
		}
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("specio: line %d field %d: %v: %w", lineNo, i+1, err, apperr.ErrInvalidConfig)
			}
			res.Columns[i] = append(res.Columns[i], v)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("specio: scan: %w", err)
	}
	if len(res.Columns) == 0 {
		return nil, fmt.Errorf("specio: no data rows: %w", apperr.ErrInvalidConfig)
	}
	return res, nil
}

// Spectrum builds an observed spectrum from two (wavelength, flux) or three
// (wavelength, flux, error) columns.
func (r *Result) Spectrum() (*spectrum.Spectrum, error) {
	switch len(r.Columns) {
	case 2:
		return spectrum.New(r.Columns[0], r.Columns[1], nil)
	case 3:
		return spectrum.New(r.Columns[0], r.Columns[1], r.Columns[2])
	default:
		return nil, fmt.Errorf("specio: spectrum needs 2 or 3 columns, got %d: %w",
			len(r.Columns), apperr.ErrInvalidConfig)
	}
}

// SpectrumData checks the columns form a valid spectrum and returns them in
// the wire form accepted by the fit service.
func (r *Result) SpectrumData() (models.SpectrumData, error) {
	if _, err := r.Spectrum(); err != nil {
		return models.SpectrumData{}, err
	}
	data := models.SpectrumData{
		Name:       r.Header.Name,
		Wavelength: r.Columns[0],
		Flux:       r.Columns[1],
	}
	if len(r.Columns) == 3 {
		data.FluxError = r.Columns[2]
	}
	return data, nil
}

// Template builds a template from exactly two (wavelength, flux) columns.
// The header name, when present, overrides fallbackName.
func (r *Result) Template(fallbackName string) (spectrum.Template, error) {
	if len(r.Columns) != 2 {
		return spectrum.Template{}, fmt.Errorf("specio: template %s needs 2 columns, got %d: %w",
			fallbackName, len(r.Columns), apperr.ErrInvalidConfig)
	}
	name := fallbackName
	if r.Header.Name != "" {
		name = r.Header.Name
	}
	t := spectrum.Template{Name: name, Wavelength: r.Columns[0], Flux: r.Columns[1]}
	if err := t.Validate(); err != nil {
		return spectrum.Template{}, fmt.Errorf("specio: %w", err)
	}
	return t, nil
}

// ParseList returns the entries of a template list file: one path per line,
// '#' comments and blank lines skipped.
func ParseList(data []byte) []string {
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// splitHeader separates a YAML header (between leading --- delimiters) from
// the column body. Without a header the entire content is body. A malformed
// header is an error.
func splitHeader(data []byte) (Header, []byte, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return Header{}, data, nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return Header{}, nil, fmt.Errorf("specio: unterminated header: %w", apperr.ErrInvalidConfig)
	}

	block := rest[:idx]
	body := rest[idx+1+len(delim):]

	var hdr Header
	if err := yaml.Unmarshal(block, &hdr); err != nil {
		return Header{}, nil, fmt.Errorf("specio: header: %v: %w", err, apperr.ErrInvalidConfig)
	}
	return hdr, body, nil
}
