package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LoveWonYoung/j1939tp/driver"
	"github.com/LoveWonYoung/j1939tp/logrecorder"
	"github.com/LoveWonYoung/j1939tp/tp"
)

// Demo: two nodes on a virtual bus. Node A broadcasts a 100-byte message and
// sends a 200-byte connection-mode transfer to node B.
func main() {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	logrecorder.Init(log, "j1939tp_demo_")

	devA, devB := driver.NewMockPair()
	busA, err := driver.NewBusAdapter(devA, log)
	if err != nil {
		log.Fatal(err)
	}
	busB, err := driver.NewBusAdapter(devB, log)
	if err != nil {
		log.Fatal(err)
	}
	defer busA.Close()
	defer busB.Close()

	const addrA, addrB = 0x1C, 0x2A

	regA := tp.NewRegistry()
	nodeA := regA.Claim(addrA)
	peerB := regA.Claim(addrB)

	regB := tp.NewRegistry()
	regB.Claim(addrA)
	regB.Claim(addrB)

	engineA := tp.NewEngine(busA, regA, nil)
	engineA.SetLogger(log)
	engineB := tp.NewEngine(busB, regB, nil)
	engineB.SetLogger(log)

	received := make(chan int, 2)
	engineB.SetMessageCallback(func(pgn uint32, source, destination *tp.ControlFunction, data tp.Data) {
		log.Infof("node B received %d bytes of PGN %#06x from %d", data.Len(), pgn, source.Address())
		received <- data.Len()
	})

	stackA := tp.NewStack(engineA)
	stackB := tp.NewStack(engineB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stackA.Run(ctx, busA.Frames())
	go stackB.Run(ctx, busB.Frames())

	payload := func(n int) tp.Data {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(i)
		}
		return tp.NewDataVectorFromBytes(buf)
	}

	done := make(chan bool, 2)
	onComplete := func(pgn uint32, length int, source, destination *tp.ControlFunction, success bool, _ any) {
		log.Infof("node A tx of %d bytes for PGN %#06x finished, success=%v", length, pgn, success)
		done <- success
	}

	if err := stackA.Send(0xFECA, payload(100), nodeA, nil, onComplete, nil); err != nil {
		log.Fatal(err)
	}
	if err := stackA.Send(0xEF00, payload(200), nodeA, peerB, onComplete, nil); err != nil {
		log.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			log.Fatal("transfer did not finish in time")
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(5 * time.Second):
			log.Fatal("delivery did not arrive in time")
		}
	}
	log.Info("demo complete")
}
