// Package cloud holds the point samples a superquadric is fitted to.
//
// # Responsibilities
//
//   - SampleSet: an immutable, ordered collection of 3D points
//   - Reading and writing point clouds as PCD (ASCII) and ASC text
//   - Voxel-grid downsampling used by the coarse-to-fine driver
//
// Points are gonum r3.Vec values in world coordinates. A loaded cloud may
// contain non-finite points (PCD uses NaN for invalid returns); they are
// kept as-is so that evaluation can skip them, and Finite strips them
// where a consumer cannot tolerate them.
package cloud
