// Package device defines the Bluetooth Low Energy platform abstraction used by
// blelog: the peripheral, service and characteristic data model, the events a
// platform publishes, and the Platform interface the session core drives.
//
// The concrete implementation backed by go-ble lives in the go-ble subpackage;
// tests use the mocks from internal/testutils.
package device
