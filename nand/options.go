package nand

import (
	"github.com/BertoldVdb/nandflash/geometry"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPageShift places the row address above two column cycles.
	DefaultPageShift = 16

	// DefaultEraseAddressCycles is the row address width used for erase.
	DefaultEraseAddressCycles = 3
)

type config struct {
	log                logrus.FieldLogger
	geometry           *geometry.Geometry
	pageShift          uint
	eraseAddressCycles int
}

func defaultConfig() config {
	return config{
		log:                logrus.StandardLogger(),
		pageShift:          DefaultPageShift,
		eraseAddressCycles: DefaultEraseAddressCycles,
	}
}

type Option func(*config)

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *config) {
		if log != nil {
			c.log = log
		}
	}
}

// WithGeometry skips ONFI identification and uses g as is.
func WithGeometry(g geometry.Geometry) Option {
	return func(c *config) {
		c.geometry = &g
	}
}

// WithPageShift sets how far a page number is shifted to form the address.
func WithPageShift(shift uint) Option {
	return func(c *config) {
		c.pageShift = shift
	}
}

func WithEraseAddressCycles(cycles int) Option {
	return func(c *config) {
		if cycles > 0 && cycles <= geometry.MaxAddressCycles {
			c.eraseAddressCycles = cycles
		}
	}
}
