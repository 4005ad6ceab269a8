// Package redisctl lets an operator issue out-of-band kill-session and
// close-stream commands over a Redis pub/sub channel, adapted from the
// teacher's redis_cmds.go.
package redisctl

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Hooks lets the receiver reach back into the channel registry without
// redisctl importing the server package.
type Hooks interface {
	KillPublisher(channel string, streamID string)
	LogInfo(line string)
	LogWarning(line string)
	LogError(err error)
}

// Start connects to Redis and listens for commands if REDIS_USE=YES.
// It is a no-op otherwise. Runs until the process exits, reconnecting
// on any error.
func Start(hooks Hooks) {
	if os.Getenv("REDIS_USE") != "YES" {
		return
	}
	go run(hooks)
}

func run(hooks Hooks) {
	defer func() {
		if err := recover(); err != nil {
			reportPanic(hooks, err)
		}
		hooks.LogWarning("Connection to Redis lost! Reconnecting...")
		time.Sleep(10 * time.Second)
		go run(hooks)
	}()

	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		redisHost = "localhost"
	}
	redisPort := os.Getenv("REDIS_PORT")
	if redisPort == "" {
		redisPort = "6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisChannel := os.Getenv("REDIS_CHANNEL")
	if redisChannel == "" {
		redisChannel = "rtmp_commands"
	}

	opts := &redis.Options{
		Addr:     redisHost + ":" + redisPort,
		Password: redisPassword,
	}
	if os.Getenv("REDIS_TLS") == "YES" {
		opts.TLSConfig = &tls.Config{}
	}

	client := redis.NewClient(opts)
	ctx := context.Background()
	subscriber := client.Subscribe(ctx, redisChannel)

	hooks.LogInfo("[REDIS] Listening for commands on channel '" + redisChannel + "'")

	for {
		msg, err := subscriber.ReceiveMessage(ctx)
		if err != nil {
			hooks.LogWarning("Could not connect to Redis: " + err.Error())
			time.Sleep(10 * time.Second)
			continue
		}
		parseCommand(hooks, msg.Payload)
	}
}

func parseCommand(hooks Hooks, cmd string) {
	defer func() {
		if err := recover(); err != nil {
			reportPanic(hooks, err)
			hooks.LogWarning("Could not parse message: " + cmd)
		}
	}()

	parts := strings.SplitN(cmd, ">", 2)
	if len(parts) != 2 {
		hooks.LogWarning("Invalid message from Redis: " + cmd)
		return
	}

	cmdName := parts[0]
	cmdArgs := strings.Split(parts[1], "|")

	switch cmdName {
	case "kill-session":
		if len(cmdArgs) < 1 {
			hooks.LogWarning("Invalid message from Redis: " + cmd)
			return
		}
		hooks.KillPublisher(cmdArgs[0], "")
	case "close-stream":
		if len(cmdArgs) < 2 {
			hooks.LogWarning("Invalid message from Redis: " + cmd)
			return
		}
		hooks.KillPublisher(cmdArgs[0], cmdArgs[1])
	default:
		hooks.LogWarning("Unknown Redis command: " + cmd)
	}
}

func reportPanic(hooks Hooks, err any) {
	switch x := err.(type) {
	case string:
		hooks.LogError(errors.New(x))
	case error:
		hooks.LogError(x)
	default:
		hooks.LogError(errors.New("redis command processing error"))
	}
}
