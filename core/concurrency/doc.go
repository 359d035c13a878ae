// Package concurrency
// Author: momentics <momentics@gmail.com>
//
// Lock-free building blocks shared by pool and remote.
package concurrency
