package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "lightspeed-conference",
	Level: hclog.LevelFromString("DEBUG"),
})
