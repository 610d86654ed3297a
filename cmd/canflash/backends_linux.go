package main

import (
	_ "github.com/samsamfire/canflash/pkg/can/einride"
	_ "github.com/samsamfire/canflash/pkg/can/socketcan"
	_ "github.com/samsamfire/canflash/pkg/can/socketcanv2"
)
