// Package feature holds the per-image feature containers shared by the
// matcher, the estimator and the storage layers.
//
// Responsibilities: keypoints, quantized descriptor matrices, match lists,
// the text interchange format and descriptor normalization.
// Key types: Keypoint, DescriptorSet, Match, MatchList.
//
// Dependency rule: feature depends on nothing else in this module.
package feature
