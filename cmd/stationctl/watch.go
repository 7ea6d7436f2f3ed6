package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"

	"radiocatalog/stationstore/internal/invalidate"
)

func (c *cli) watchCmd() *cobra.Command {
	var (
		broker string
		topic  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print invalidations published by the hub or an MQTT broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if topic == "" {
				topic = invalidate.Topic(c.cfg.Invalidation.TopicPrefix)
			}

			clientID := fmt.Sprintf("stationctl-watch-%d", time.Now().UnixNano())
			opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
			client := mqtt.NewClient(opts)
			if token := client.Connect(); token.Wait() && token.Error() != nil {
				return fmt.Errorf("failed to connect to broker: %w", token.Error())
			}
			defer client.Disconnect(250)

			out := cmd.OutOrStdout()
			token := client.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
				var msg invalidate.Message
				if err := json.Unmarshal(m.Payload(), &msg); err != nil {
					fmt.Fprintf(out, "%s\t(undecodable) %s\n", m.Topic(), m.Payload())
					return
				}
				fmt.Fprintf(out, "%s\t%s\n", msg.At.Format(time.RFC3339), msg.Path)
			})
			if token.Wait() && token.Error() != nil {
				return fmt.Errorf("subscribe %s: %w", topic, token.Error())
			}
			c.logger.Info("watching invalidations", "broker", broker, "topic", topic)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&broker, "broker", "tcp://localhost:1883", "hub or MQTT broker address")
	cmd.Flags().StringVar(&topic, "topic", "", "topic filter (default <topic_prefix>/invalidate)")
	return cmd
}
