package bus

import (
	"fmt"
	"strconv"

	"github.com/kilianp07/taxifleet/core/grid"
	"github.com/kilianp07/taxifleet/core/model"
)

// TaxiRef is the envelope id of a taxi.
func TaxiRef(id model.TaxiID) string { return strconv.Itoa(int(id)) }

// CustomerRef is the envelope id of a customer.
func CustomerRef(id model.CustomerID) string { return id.String() }

// ParseTaxiRef reads a taxi id from an envelope id.
func ParseTaxiRef(s string) (model.TaxiID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid taxi ref %q: %w", s, err)
	}
	id := model.TaxiID(n)
	if !id.Valid() {
		return 0, fmt.Errorf("taxi id %d out of range", n)
	}
	return id, nil
}

// ParseCustomerRef reads a customer id from an envelope id.
func ParseCustomerRef(s string) (model.CustomerID, error) {
	return model.ParseCustomerID(s)
}

// TaxiData encodes a taxi id.
func TaxiData(id model.TaxiID) []byte {
	return []byte{byte(id)}
}

// ReadTaxi decodes a payload built by TaxiData or TaxiCoordData.
func ReadTaxi(data []byte) (model.TaxiID, error) {
	if len(data) < 1 {
		return 0, ErrMalformedData
	}
	return model.TaxiID(data[0]), nil
}

// TaxiCoordData encodes a taxi id followed by a coordinate.
func TaxiCoordData(id model.TaxiID, c grid.Coordinate) []byte {
	return []byte{byte(id), byte(c.X), byte(c.Y)}
}

// ReadTaxiCoord decodes a payload built by TaxiCoordData.
func ReadTaxiCoord(data []byte) (model.TaxiID, grid.Coordinate, error) {
	if len(data) < 3 {
		return 0, grid.Coordinate{}, ErrMalformedData
	}
	return model.TaxiID(data[0]), grid.Wrap(int(data[1]), int(data[2])), nil
}

// CustomerData encodes a customer id.
func CustomerData(id model.CustomerID) []byte { return []byte{byte(id)} }

// ReadCustomer decodes a payload built by CustomerData.
func ReadCustomer(data []byte) (model.CustomerID, error) {
	if len(data) < 1 || !model.CustomerID(data[0]).Valid() {
		return 0, ErrMalformedData
	}
	return model.CustomerID(data[0]), nil
}

// LocationData encodes a destination letter.
func LocationData(id model.LocationID) []byte { return []byte{byte(id)} }

// ReadLocation decodes a payload built by LocationData.
func ReadLocation(data []byte) (model.LocationID, error) {
	if len(data) < 1 || !model.LocationID(data[0]).Valid() {
		return 0, ErrMalformedData
	}
	return model.LocationID(data[0]), nil
}

// FlagData encodes a boolean.
func FlagData(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// ReadFlag decodes a payload built by FlagData.
func ReadFlag(data []byte) bool { return len(data) > 0 && data[0] != 0 }

// CorrelatorData encodes a join correlator.
func CorrelatorData(c string) []byte { return []byte(c) }

// ReadCorrelator decodes a payload built by CorrelatorData.
func ReadCorrelator(data []byte) string { return string(data) }
