// Package run holds the heat currently selected by the operator.
package run
