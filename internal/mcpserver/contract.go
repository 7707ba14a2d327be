package mcpserver

// ConfigFormatContract describes the YAML configuration and the spectrum
// column format that LLM consumers should follow when preparing fits.
const ConfigFormatContract = `# SPAMM Configuration and Spectrum Format

## Configuration file (config.yaml)

` + "```" + `yaml
app:
  log_level: info                   # debug | info | warn | error
  http:
    port: 8080
sqlite:
  path: ./data/spamm.db
auth:
  mode: token                       # token | disabled
  token: ${SPAMM_AUTH_TOKEN}        # environment variables are expanded
templates:
  root: ./templates
  watch: true                       # reload cached sets when files change
  sets:
    host_galaxy:
      default: host/list.txt        # list file, one template path per line
    fe_forest:
      default: fe/list.txt
sampler:
  walkers: 30                       # even, at least twice the parameter count
  iterations: 500
  burn_in: 100
  stretch: 2.0
  workers: 0                        # 0 means one per CPU
  seed: 1
nuclear_continuum:
  slope: {min: -3.0, max: 3.0}
host_galaxy:
  template_set: default
  stellar_dispersion: {min: 30, max: 600}
  boxcar_width: 5
fe_forest:
  template_set: default
  fe_width: {min: 1000, max: 10000}
balmer_continuum:
  electron_temperature: {min: 5000, max: 20000}
  optical_depth: {min: 0.1, max: 2.0}
extinction:
  ebv: {min: 0, max: 1}
  r_v: 4.05
` + "```" + `

## Rules

1. **Prior bounds are open intervals.** A value equal to ` + "`min`" + ` or ` + "`max`" + ` is rejected.
2. **` + "`min`" + ` must be below ` + "`max`" + `** for every bound.
3. **Template sets** are resolved per component kind. The list file path and
   every entry in it are relative to ` + "`templates.root`" + `.
4. **Walkers** must be even. A fit is refused when walkers are fewer than
   twice the number of model parameters.

## Components

| Code | Name | Parameters |
|---|---|---|
| PL | nuclear_continuum | normalization, slope |
| HOST | host_galaxy | normalization_<template>..., stellar_dispersion |
| FE | fe_forest | normalization_<template>..., fe_width |
| BC | balmer_continuum | normalization, electron_temperature, optical_depth |
| CALZETTI_EXT | extinction | ebv |

At least one additive component (PL, HOST, FE or BC) is required.

## Spectrum files

Whitespace-separated columns with an optional YAML header:

` + "```" + `text
---
name: mrk590
redshift: 0.026
---
# wavelength  flux  flux_error
4000.0  2.31  0.05
4001.0  2.30  0.05
` + "```" + `

- Two columns are (wavelength, flux); three add the flux uncertainty.
- Without uncertainties every point is weighted equally (unit sigma).
- Wavelengths are in Angstrom and strictly increasing.
- Lines starting with ` + "`#`" + ` and blank lines are skipped.
- Template files use the same format with exactly two columns.
`
