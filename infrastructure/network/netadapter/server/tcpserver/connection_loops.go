package tcpserver

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/selfnet/selfd/app/appmessage"
	"github.com/selfnet/selfd/infrastructure/network/netadapter/router"
	"github.com/selfnet/selfd/util/binaryserializer"
)

func (c *tcpConnection) connectionLoops() error {
	// Both loops report here; the first one to finish tears the connection down.
	errChan := make(chan error, 2)

	spawn("tcpConnection.receiveLoop", func() {
		err := c.receiveLoop()
		errChan <- err
	})

	spawn("tcpConnection.sendLoop", func() {
		err := c.sendLoop()
		errChan <- err
	})

	err := <-errChan

	c.Disconnect()

	return err
}

func (c *tcpConnection) sendLoop() error {
	outgoingRoute := c.router.OutgoingRoute()
	for c.IsConnected() {
		message, err := outgoingRoute.Dequeue()
		if err != nil {
			if errors.Is(err, router.ErrRouteClosed) {
				return nil
			}
			return err
		}

		log.Debugf("outgoing '%s' message to %s", message.Command(), c)
		log.Tracef("outgoing '%s' message to %s: %+v", message.Command(), c, message)

		payload, err := appmessage.Serialize(message)
		if err != nil {
			return err
		}
		err = c.send(payload)
		if err != nil {
			if !c.IsConnected() {
				return nil
			}
			return err
		}
	}
	return nil
}

func (c *tcpConnection) receiveLoop() error {
	for c.IsConnected() {
		payload, err := c.receive()
		if err != nil {
			if errors.Is(err, io.EOF) || !c.IsConnected() {
				return nil
			}
			if errors.Is(err, binaryserializer.ErrTooLarge) {
				c.onInvalidMessageHandler(err)
			}
			return err
		}
		message, err := appmessage.Deserialize(payload)
		if err != nil {
			c.onInvalidMessageHandler(err)
			return err
		}
		message.SetReceivedAt(time.Now())

		log.Debugf("incoming '%s' message from %s", message.Command(), c)
		log.Tracef("incoming '%s' message from %s: %+v", message.Command(), c, message)

		err = c.router.EnqueueIncomingMessage(message)
		if err != nil {
			if errors.Is(err, router.ErrRouteClosed) {
				return nil
			}
			c.onInvalidMessageHandler(err)
			return err
		}
	}
	return nil
}
