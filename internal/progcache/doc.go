// Package progcache provides a small generic cache for compiled GPU
// programs and similar device objects.
//
// Compiling a shader program is expensive (WGSL front-end plus driver
// back-end) while lookups are hot, so the cache serializes creation per
// key and keeps completed programs until eviction or drain. The eviction
// callback gives owners a hook to release the underlying GPU resources.
package progcache
