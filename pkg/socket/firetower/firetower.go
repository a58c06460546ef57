// Package firetower hosts the in-process pub/sub the monitor relays channel
// events through.
package firetower

import (
	"github.com/holdno/firetower/config"
	"github.com/holdno/firetower/protocol"
	"github.com/holdno/firetower/service/tower"
	"github.com/holdno/firetower/utils"
)

// SelfPusher feeds fires published by this process straight back into the
// local tower, there is no cluster transport.
type SelfPusher[T any] struct {
	ip      string
	channel chan *protocol.FireInfo[T]
}

func (s SelfPusher[T]) Publish(fire *protocol.FireInfo[T]) error {
	s.channel <- fire
	return nil
}

func (s *SelfPusher[T]) Receive() chan *protocol.FireInfo[T] {
	return s.channel
}

func (s *SelfPusher[T]) UserID() string {
	return "system"
}

func (s *SelfPusher[T]) ClientID() string {
	return s.ip
}

type Options struct {
	Buffer    int
	Heartbeat int // seconds
	Buckets   int
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 60
	}
	if o.Buckets <= 0 {
		o.Buckets = 1
	}
	return o
}

func SetupFiretower[T any](opts ...Options) (tower.Manager[T], *SelfPusher[T], error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	o = o.withDefaults()

	localIP, err := utils.GetIP()
	if err != nil {
		localIP = "localhost"
	}
	pusher := &SelfPusher[T]{
		ip:      localIP,
		channel: make(chan *protocol.FireInfo[T], o.Buffer),
	}

	tm, err := tower.Setup[T](config.FireTowerConfig{
		ReadChanLens:  5,
		WriteChanLens: o.Buffer,
		Heartbeat:     o.Heartbeat,
		ServiceMode:   config.SingleMode,
		Bucket: config.BucketConfig{
			Num:              o.Buckets,
			CentralChanCount: int64(o.Buffer),
			BuffChanCount:    int64(o.Buffer),
			// one consumer keeps progress frames of a task in order
			ConsumerNum: 1,
		},
	}, tower.BuildWithPusher[T](pusher))
	if err != nil {
		return nil, nil, err
	}

	return tm, pusher, nil
}
