// Package geom holds the small amount of geometry shared by the SLAM
// stages: camera poses as similarity transforms and pinhole intrinsics.
//
// Rotations are unit quaternions (gonum num/quat) and translations are r3
// vectors (gonum spatial/r3). A Pose maps camera coordinates into the world
// frame: p_world = Scale * R * p_cam + Translation.
package geom
