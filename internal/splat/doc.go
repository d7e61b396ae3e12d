// Package splat owns Gaussian-splat scenes and their pruning.
//
// Responsibilities: the structure-of-arrays Scene, its invariant checks,
// the shared index gather, and the two selection policies (opacity
// threshold and opacity budget) with their statistics reports.
// Key types: Scene, Attribute, Report.
//
// Pruning only selects primitives. Attribute values are never transformed
// and the input Scene is never mutated.
//
// No file formats or SQL live here; see plyio and runstore.
package splat
