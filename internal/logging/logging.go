// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package logging seeds component-scoped logrus loggers so every
// subsystem tags its entries with a "component" field instead of each
// constructing its own ad-hoc prefix.
package logging

import "github.com/sirupsen/logrus"

// Base is the root logger; tests may swap its output/formatter.
var Base = logrus.StandardLogger()

// For returns a logger scoped to component.
func For(component string) *logrus.Entry {
	return Base.WithField("component", component)
}
