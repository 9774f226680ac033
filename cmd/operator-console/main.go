package main

import (
	"os"

	"github.com/psds-microservice/operator-console/cmd"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logrus.WithError(err).Error("operator-console")
		os.Exit(1)
	}
}
