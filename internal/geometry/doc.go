// Package geometry estimates two-view geometric models from putative
// correspondences.
//
// Responsibilities: the closed set of model kinds and their residuals,
// minimal and least-squares solvers, adaptive RANSAC and two-view
// verification with model selection.
// Key types: Kind, Model, Report, TwoViewGeometry.
//
// Dependency rule: geometry depends on feature and config only; it never
// looks at descriptors.
package geometry
