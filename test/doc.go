// Package test holds end-to-end tests running the fleet against real
// infrastructure started in containers.
package test
