// Package fake provides fake implementations for interfaces commonly used in
// the repository.
//
// The implementations offer configuration to return errors when it is needed by
// the unit test and it is also possible to record the calls of an object in
// some cases.
package fake

import (
	"golang.org/x/xerrors"
)

var fakeErr = xerrors.New("fake error")

// GetError returns the fake error used by the fake implementations.
func GetError() error {
	return fakeErr
}

// Err returns the message of an error wrapped around the fake error.
func Err(msg string) string {
	return msg + ": " + fakeErr.Error()
}
