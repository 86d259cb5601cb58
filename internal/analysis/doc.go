// Package analysis post-processes recorded runs.
//
//   - [PowerSpectrum] and [DominantFrequency]: spectral content of one
//     recorded series (a coordinate, a residual row or a multiplier)
//   - [NewPortrait]: a 2D phase portrait of two state entries, rasterized
//     with [Portrait.Grid]
package analysis
