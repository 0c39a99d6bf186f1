// Package mqtt manages the backend's broker connection.
//
// The backend and the BLE gateway never call each other directly. Commands
// go out on gateway/comando and the gateway answers on gateway/resposta/<acao>.
// This package owns the one long-lived connection used for both:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllGatewayResponses(), 1,
//	    func(topic string, payload []byte) error {
//	        return dispatch(payload)
//	    })
//
// Reconnects use paho's auto-reconnect with a backoff bounded by
// mqtt.reconnect.max_delay. Subscriptions are restored on every reconnect.
// Messages published while the connection is down fail with ErrNotConnected
// and are not queued.
//
// A retained status on silowatch/backend/status reports online or offline,
// with the LWT covering crashes.
package mqtt
