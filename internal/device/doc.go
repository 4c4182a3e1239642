// Package device defines the domain of the BLE connection core: advertised
// devices, GATT characteristics, the Gateway contract implemented by radio
// backends, match policies and the typed error taxonomy.
//
// Backends live in subpackages (go-ble, tinygo) and report faults as
// *StatusError values that Classify* helpers turn into *Error kinds.
package device
