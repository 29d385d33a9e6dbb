// Package matching finds putative descriptor correspondences between two
// images: brute-force nearest neighbours under the angular distance with
// ratio, distance, border and cross-check filters, plus guided matching
// restricted by an estimated two-view geometry.
//
// Two backends share one selection core: CPUMatcher is stateless and safe
// for concurrent use; DeviceMatcher owns a device.Context and must be used
// sequentially by one goroutine.
package matching
