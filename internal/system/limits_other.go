//go:build !unix

package system

import "github.com/sirupsen/logrus"

func InitResourceLimits(*logrus.Entry) {}
