// Package plugins registers all built-in plugins.
package plugins

import (
	"firestige.xyz/ttlbridge/pkg/plugin"
	"firestige.xyz/ttlbridge/plugins/sink/console"
	"firestige.xyz/ttlbridge/plugins/sink/gpio"
	"firestige.xyz/ttlbridge/plugins/sink/kafka"
	"firestige.xyz/ttlbridge/plugins/sink/mqtt"
)

func init() {
	plugin.RegisterSink("console", console.NewConsoleSink)
	plugin.RegisterSink("kafka", kafka.NewKafkaSink)
	plugin.RegisterSink("mqtt", mqtt.NewMQTTSink)
	plugin.RegisterSink("gpio", gpio.NewGPIOSink)
}
