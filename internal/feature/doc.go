// Package feature converts raw mono audio into the fixed-shape cepstral
// coefficient tensor consumed by the classifier. Extraction is a pure
// function: 2048-sample analysis windows with a 512-sample hop, 13
// coefficients per frame, the time axis padded or truncated to exactly 94
// frames, and a leading batch dimension of 1.
package feature
