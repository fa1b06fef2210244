package engine

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"

	"github.com/kb5ft8/ft8d/pkg/audio"
	"github.com/kb5ft8/ft8d/pkg/clock"
	"github.com/kb5ft8/ft8d/pkg/config"
	"github.com/kb5ft8/ft8d/pkg/dsp"
	"github.com/kb5ft8/ft8d/pkg/engineerr"
	"github.com/kb5ft8/ft8d/pkg/eventbus"
	"github.com/kb5ft8/ft8d/pkg/logging"
	"github.com/kb5ft8/ft8d/pkg/metrics"
	"github.com/kb5ft8/ft8d/pkg/model"
	"github.com/kb5ft8/ft8d/pkg/operator"
	"github.com/kb5ft8/ft8d/pkg/radio"
	"github.com/kb5ft8/ft8d/pkg/resource"
	"github.com/kb5ft8/ft8d/pkg/slot"
	"github.com/kb5ft8/ft8d/pkg/storage"
	"github.com/kb5ft8/ft8d/pkg/workqueue"
)

// internalSampleRate is the rate decode audio is stored and analyzed at.
// Capture arrives at the platform rate and is resampled down on write.
const internalSampleRate = 12000

// stopWatchdog bounds how long Stop waits for the engine's goroutines to
// drain before giving up and reporting a timeout.
const stopWatchdog = 10 * time.Second

// AudioLevel is the monitor service's periodic capture-level report.
type AudioLevel struct {
	RMS  float64
	Peak float64
	At   time.Time
}

// SpectrumWindow is a capture window published for the UI's waterfall: the
// raw samples for the external high-resolution FFT worker, plus a coarse
// magnitude preview computed in-process so the UI has something to draw
// before that worker attaches.
type SpectrumWindow struct {
	Samples    []float32
	SampleRate int
	Bins       []float64 // coarse magnitude spectrum, DC..Nyquist
	BinHz      float64   // frequency step between Bins entries
	At         time.Time
}

// RadioStatus is published when the radio link comes up or goes down, or
// when the rig reports a dial frequency change.
type RadioStatus struct {
	Connected      bool
	Reason         string
	DuringTransmit bool
	Recommendation string
	FreqHz         int64
	At             time.Time
}

// Options are the injectable backends; zero values select the defaults:
// mock device, dsp.DefaultCodec (the mock codec unless built with the
// ft8cgo tag), the transport cfg.Radio names (none in config.Default), and
// the system clock, which is also what tests want.
type Options struct {
	Device       audio.Device
	Codec        dsp.Codec
	Transport    radio.Transport
	Clock        clock.Source
	Bus          *eventbus.Bus
	Metrics      *metrics.Metrics
	FrameLogDir  string // "" disables slot-pack persistence
	WorkedDBPath string // "" disables the worked-station index
}

// CoreEngine is the composition root: it owns every engine component, the
// resource lifecycle that starts and stops them in order, and the event
// loops that move data between them while running.
type CoreEngine struct {
	cfg    *config.Config
	modeMu sync.RWMutex
	mode   model.ModeDescriptor
	log    *logging.Logger

	clockSrc  clock.Source
	slotClock *clock.SlotClock
	bus       *eventbus.Bus
	met       *metrics.Metrics

	ring      *audio.RingBuffer
	device    audio.Device
	mixer     *audio.Mixer
	codec     dsp.Codec
	decodeQ   *workqueue.Queue[model.DecodeResult]
	encodeQ   *workqueue.Queue[model.EncodeResult]
	scheduler *slot.Scheduler
	packs     *slot.PackManager
	frameLog  *storage.FrameLog
	worked    *storage.WorkedStationIndex
	radio     *radio.Controller
	ops       *operator.Manager
	tracker   *Tracker
	ptt       *pttGuard

	sm        *StateMachine
	resources *resource.Manager

	mu        sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	// Per-slot encode accounting, reset at every slot boundary.
	slotMu           sync.Mutex
	currentSlot      int64
	expectedEncodes  int
	completedEncodes int

	// Completed contacts already recorded, so a QSOComplete state observed
	// across several decode results only logs once.
	recordedMu sync.Mutex
	recorded   map[string]string // operator id -> last logged peer callsign
}

// NewCoreEngine wires a CoreEngine for cfg. Nothing is started; call Start.
func NewCoreEngine(cfg *config.Config, opts Options) (*CoreEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode := model.FT8
	if len(cfg.Operators) > 0 {
		if m, ok := model.ModeByName(cfg.Operators[0].Mode); ok {
			mode = m
		}
	}

	e := &CoreEngine{
		cfg:      cfg,
		mode:     mode,
		log:      logging.Component("engine"),
		clockSrc: opts.Clock,
		bus:      opts.Bus,
		met:      opts.Metrics,
		device:   opts.Device,
		codec:    opts.Codec,
		tracker:  NewTracker(),
		recorded: make(map[string]string),
	}
	if e.clockSrc == nil {
		e.clockSrc = clock.SystemClock{}
	}
	if e.bus == nil {
		e.bus = eventbus.New(64)
	}
	if e.met == nil {
		e.met = metrics.New()
	}
	if e.device == nil {
		e.device = audio.NewMockDevice()
	}
	if e.codec == nil {
		e.codec = dsp.DefaultCodec()
	}
	e.bus.OnDrop(func(topic string) {
		e.met.EventBusDrops.WithLabelValues(topic).Inc()
	})

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = radioTransportFor(cfg)
		if err != nil {
			return nil, err
		}
	}
	e.radio = radio.NewController(transport)

	compensation := time.Duration(cfg.Radio.TransmitCompensationMs) * time.Millisecond
	e.slotClock = clock.NewSlotClock(e.clockSrc, clock.Params{
		SlotPeriod:     mode.SlotPeriod,
		SubWindowCount: mode.SubWindowCount,
		EncodeLeadTime: mode.EncodeLeadTime,
		TransmitOffset: mode.TransmitOffset,
		Compensation:   compensation,
	}, 64)

	ringCapacity := internalSampleRate * int(mode.SlotPeriod.Seconds()*2+1)
	e.ring = audio.NewRingBuffer(ringCapacity, internalSampleRate)
	e.mixer = audio.NewMixer(e.device)

	e.decodeQ = workqueue.New[model.DecodeResult](1, 8)
	e.encodeQ = workqueue.New[model.EncodeResult](1, 8)

	e.packs = slot.NewPackManager(time.Minute)
	e.scheduler = slot.NewScheduler(mode, internalSampleRate, e.ring, e.decodeQ, e.packs, e.bus, e.met)
	e.scheduler.SetDecodeWhileTransmitting(cfg.FT8.DecodeWhileTransmitting)

	if opts.FrameLogDir != "" {
		fl, err := storage.NewFrameLog(opts.FrameLogDir)
		if err != nil {
			return nil, fmt.Errorf("engine: frame log: %w", err)
		}
		e.frameLog = fl
	}
	if opts.WorkedDBPath != "" {
		wi, err := storage.NewWorkedStationIndex(opts.WorkedDBPath)
		if err != nil {
			return nil, fmt.Errorf("engine: worked index: %w", err)
		}
		e.worked = wi
	}

	e.ops = operator.NewManager(e.bus, 16)
	e.scheduler.HasActiveTransmissions = e.ops.HasActiveTransmissionsInCurrentCycle

	e.ptt = newPTTGuard(e.radio, e.bus, e.met)
	e.sm = NewStateMachine(e.bus)
	e.resources = resource.NewManager()
	e.registerResources()

	if cfg.LastVolumeGain != nil {
		e.device.SetGainDb(cfg.LastVolumeGain.GainDb)
	}
	return e, nil
}

// radioTransportFor maps the config's radio section onto a Transport.
func radioTransportFor(cfg *config.Config) (radio.Transport, error) {
	switch cfg.Radio.Type {
	case "none", "":
		return radio.NewNoneTransport(), nil
	case "serial":
		return radio.NewSerialTransport(cfg.Radio.Serial.Path, 38400), nil
	case "network":
		return radio.NewNetworkTransport(fmt.Sprintf("%s:%d", cfg.Radio.Network.Host, cfg.Radio.Network.Port)), nil
	case "icom-wlan":
		// Vendor WLAN CAT speaks the same line protocol over TCP.
		return radio.NewNetworkTransport(fmt.Sprintf("%s:%d", cfg.Radio.IcomWLAN.IP, cfg.Radio.IcomWLAN.Port)), nil
	default:
		return nil, engineerr.New("engine: radio transport", engineerr.KindConfig,
			fmt.Errorf("unknown radio type %q", cfg.Radio.Type))
	}
}

// Bus exposes the event bus so the web adapter can subscribe.
func (e *CoreEngine) Bus() *eventbus.Bus { return e.bus }

// Metrics exposes the prometheus registry for the HTTP adapter.
func (e *CoreEngine) Metrics() *metrics.Metrics { return e.met }

// State returns the supervisor's current phase.
func (e *CoreEngine) State() model.EngineState { return e.sm.State() }

// Packs exposes the slot-pack manager for status queries.
func (e *CoreEngine) Packs() *slot.PackManager { return e.packs }

// Operators exposes the operator manager for the control surface.
func (e *CoreEngine) Operators() *operator.Manager { return e.ops }

// Radio exposes the radio controller for status and frequency commands.
func (e *CoreEngine) Radio() *radio.Controller { return e.radio }

// Tracker exposes per-transmission phase diagnostics.
func (e *CoreEngine) Tracker() *Tracker { return e.tracker }

// registerResources declares the ordered resource set the state machine
// starts and stops. Priorities are fixed; dependencies add edges the
// priority numbers alone can't express.
func (e *CoreEngine) registerResources() {
	e.resources.Register(resource.Resource{
		Name: "radio", Priority: 1,
		Start: func(ctx context.Context) error { return e.radio.Start(ctx) },
		Stop:  func() error { return e.radio.Stop() },
	})
	e.resources.Register(resource.Resource{
		Name: "icomWlanAudioAdapter", Priority: 2, Optional: true,
		Start: func(ctx context.Context) error {
			if e.cfg.Radio.Type != "icom-wlan" {
				return fmt.Errorf("engine: icom wlan adapter: not configured")
			}
			e.log.Infof("icom wlan audio adapter ready (%s)", e.cfg.Radio.IcomWLAN.IP)
			return nil
		},
		Stop: func() error { return nil },
	})
	e.resources.Register(resource.Resource{
		Name: "audioInputStream", Priority: 3,
		Start: func(ctx context.Context) error {
			ch, err := e.device.Start(e.runCtx, e.cfg.Audio.SampleRate, e.cfg.Audio.BufferSize)
			if err != nil {
				return engineerr.New("engine: audio input", engineerr.KindResourceStart, err)
			}
			e.spawn(func() { e.captureLoop(ch) })
			return nil
		},
		Stop: func() error { return e.device.Stop() },
	})
	e.resources.Register(resource.Resource{
		Name: "audioOutputStream", Priority: 4, Dependencies: []string{"audioInputStream"},
		Start: func(ctx context.Context) error {
			if e.cfg.LastVolumeGain != nil {
				e.device.SetGainDb(e.cfg.LastVolumeGain.GainDb)
			}
			return nil
		},
		Stop: func() error {
			_, err := e.device.StopCurrent()
			return err
		},
	})
	e.resources.Register(resource.Resource{
		Name: "audioMonitorService", Priority: 5,
		Start: func(ctx context.Context) error {
			e.spawn(e.monitorLoop)
			return nil
		},
		Stop: func() error { return nil },
	})
	e.resources.Register(resource.Resource{
		Name: "clock", Priority: 6,
		Start: func(ctx context.Context) error {
			e.spawn(func() { e.slotClock.Run(e.runCtx) })
			e.spawn(e.eventLoop)
			return nil
		},
		Stop: func() error { return nil },
	})
	e.resources.Register(resource.Resource{
		Name: "slotScheduler", Priority: 7, Dependencies: []string{"clock"},
		Start: func(ctx context.Context) error {
			e.spawn(func() { e.scheduler.DrainResults(e.runCtx) })
			e.spawn(e.packLoop)
			return nil
		},
		Stop: func() error { return nil },
	})
	e.resources.Register(resource.Resource{
		Name: "spectrumScheduler", Priority: 8, Dependencies: []string{"clock"},
		Start: func(ctx context.Context) error {
			e.spawn(e.spectrumLoop)
			return nil
		},
		Stop: func() error { return nil },
	})
	e.resources.Register(resource.Resource{
		Name: "operatorManager", Priority: 9, Dependencies: []string{"clock"},
		Start: func(ctx context.Context) error {
			for _, oc := range e.cfg.Operators {
				e.ops.AddOperator(operator.NewRadioOperator(operatorConfigFrom(oc), e.workedIndex(), operator.EvenOdd))
			}
			e.spawn(e.encodeRequestLoop)
			e.spawn(e.encodeResultLoop)
			e.spawn(e.radioWatchLoop)
			return nil
		},
		Stop: func() error {
			e.ops.StopAllOperators()
			return nil
		},
	})
}

// workedIndex adapts the optional sqlite index to the operator package's
// interface; nil means "treat everything as new".
func (e *CoreEngine) workedIndex() operator.WorkedIndex {
	if e.worked == nil {
		return nil
	}
	return e.worked
}

func operatorConfigFrom(oc config.OperatorConfig) operator.Config {
	return operator.Config{
		ID:                       oc.ID,
		MyCallsign:               oc.MyCallsign,
		MyGrid:                   oc.MyGrid,
		AudioFreqHz:              float64(oc.AudioFreqHz),
		Mode:                     oc.Mode,
		TransmitCycles:           oc.TransmitCycles,
		MaxQSOTimeoutCycles:      oc.MaxQSOTimeoutCycles,
		MaxCallAttempts:          oc.MaxCallAttempts,
		AutoReplyToCQ:            oc.AutoReplyToCQ,
		AutoResumeCQAfterFail:    oc.AutoResumeCQAfterFail,
		AutoResumeCQAfterSuccess: oc.AutoResumeCQAfterSuccess,
		ReplyToWorkedStations:    oc.ReplyToWorkedStations,
		PrioritizeNewCalls:       oc.PrioritizeNewCalls,
	}
}

// spawn runs fn on a tracked goroutine so Stop can wait for every loop.
func (e *CoreEngine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Start brings the engine from IDLE to RUNNING, rolling back and entering
// ERROR if any non-optional resource fails.
func (e *CoreEngine) Start(ctx context.Context) error {
	if err := e.sm.BeginStart(); err != nil {
		return err
	}
	e.mu.Lock()
	e.runCtx, e.runCancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	res := e.resources.StartAll(ctx)
	if res.Err != nil {
		e.runCancel()
		for _, rbErr := range res.RollbackErrors {
			e.log.Warnf("rollback: %v", rbErr)
		}
		if e.met != nil && res.FailedResource != "" {
			e.met.ResourceStartFail.WithLabelValues(res.FailedResource).Inc()
		}
		if smErr := e.sm.StartFailed(res.Err, res.Started); smErr != nil {
			e.log.Errorf("state machine: %v", smErr)
		}
		return res.Err
	}
	if err := e.sm.StartSucceeded(); err != nil {
		return err
	}
	e.log.Infof("engine running: mode=%s operators=%d", e.Mode().Name, len(e.cfg.Operators))
	return nil
}

// Stop winds the engine down to IDLE. Safe to call from RUNNING or ERROR.
func (e *CoreEngine) Stop() error { return e.stop(false, "") }

func (e *CoreEngine) stop(forced bool, reason string) error {
	if err := e.sm.BeginStop(forced); err != nil {
		return err
	}
	// Safety first: nothing below may leave the transmitter keyed.
	e.ptt.ForceOff()

	// Disconnect the engine's own listeners (the loops all watch runCtx),
	// then take the resources down in reverse start order.
	e.mu.Lock()
	if e.runCancel != nil {
		e.runCancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	var stopErr error
	select {
	case <-done:
	case <-time.After(stopWatchdog):
		stopErr = engineerr.New("engine: stop", engineerr.KindTimeout,
			fmt.Errorf("goroutines still running after %v", stopWatchdog))
		e.log.Errorf("%v", stopErr)
	}

	if err := e.resources.StopAll(); err != nil {
		e.log.Warnf("stop: %v", err)
		if stopErr == nil {
			stopErr = err
		}
	}
	if err := e.sm.StopFinished(); err != nil {
		return err
	}
	e.log.Infof("engine stopped (forced=%v %s)", forced, reason)
	return stopErr
}

// Close releases resources that outlive start/stop cycles. Call once at
// process exit.
func (e *CoreEngine) Close() error {
	e.decodeQ.Stop()
	e.encodeQ.Stop()
	if e.frameLog != nil {
		if err := e.frameLog.Close(); err != nil {
			return err
		}
	}
	if e.worked != nil {
		if err := e.worked.Close(); err != nil {
			return err
		}
	}
	return e.codec.Close()
}

// eventLoop dispatches slot clock firings. It is the cooperative executor:
// every slot-phase decision happens here, in clock order.
func (e *CoreEngine) eventLoop() {
	for {
		select {
		case <-e.runCtx.Done():
			return
		case ev, ok := <-e.slotClock.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case clock.SlotStart:
				e.onSlotStart(ev)
				// The outgoing slot's complete-signal pass: sub-windows
				// only ever saw a prefix of it.
				if err := e.scheduler.SubmitFinalDecode(e.runCtx, e.codec, ev); err != nil {
					e.log.Warnf("final decode submit: %v", err)
				}
			case clock.SubWindow:
				if err := e.scheduler.SubmitDecode(e.runCtx, e.codec, ev); err != nil {
					e.log.Warnf("decode submit: %v", err)
				}
			case clock.EncodeDeadline:
				e.onEncodeDeadline(ev)
			case clock.TransmitStart:
				e.onTransmitStart(ev)
			}
		}
	}
}

func (e *CoreEngine) onSlotStart(ev clock.Event) {
	// Safety net: whatever the previous slot left behind, a new slot never
	// begins with the transmitter keyed.
	e.ptt.ForceOff()

	e.slotMu.Lock()
	e.currentSlot = ev.Index
	e.expectedEncodes = 0
	e.completedEncodes = 0
	e.slotMu.Unlock()

	e.packs.Close(ev.Index-1, ev.FiredAt)
	e.packs.CleanupExpired(ev.FiredAt)
	e.tracker.Sweep(ev.Index, 40)
	if e.met != nil {
		e.met.SlotsProcessed.WithLabelValues(e.Mode().Name).Inc()
	}

	e.bus.Publish(eventbus.TopicSlot, model.SlotInfo{
		Mode: e.Mode().Name, Index: ev.Index, Start: ev.Start, End: ev.End,
	})
}

func (e *CoreEngine) onEncodeDeadline(ev clock.Event) {
	for _, o := range e.ops.All() {
		if req, ok := o.OnEncodeStart(ev.Index); ok {
			e.ops.RequestTransmit(req)
		}
	}
	e.ops.ProcessPendingTransmissions(ev.Index, ev.Start, e.Mode().Name, e.cfg.Audio.SampleRate, e.clockSrc.Now())
}

// TimingWarning is published when transmitStart arrives before every encode
// expected this slot has completed. The late audio still plays, trimmed as
// a mid-slot entry.
type TimingWarning struct {
	SlotIndex int64
	Expected  int
	Completed int
	At        time.Time
}

func (e *CoreEngine) onTransmitStart(ev clock.Event) {
	e.slotMu.Lock()
	expected, completed := e.expectedEncodes, e.completedEncodes
	e.slotMu.Unlock()
	if completed < expected {
		e.bus.Publish(eventbus.TopicTimingWarning, TimingWarning{
			SlotIndex: ev.Index, Expected: expected, Completed: completed, At: ev.FiredAt,
		})
		e.log.Warnf("slot %d: %d/%d encodes ready at transmit start", ev.Index, completed, expected)
	}
}

// captureLoop moves capture chunks into the ring buffer at the internal
// rate. Runs for the life of the audio input stream.
func (e *CoreEngine) captureLoop(ch <-chan []float32) {
	platformRate := e.cfg.Audio.SampleRate
	for {
		select {
		case <-e.runCtx.Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			audio.Sanitize(chunk)
			ds := audio.Resample(chunk, platformRate, internalSampleRate)
			chunkDur := time.Duration(float64(len(chunk)) / float64(platformRate) * float64(time.Second))
			e.ring.Write(ds, e.clockSrc.Now().Add(-chunkDur))
			if e.met != nil {
				e.met.RingOverflow.Set(float64(e.ring.Dropped()))
			}
		}
	}
}

// monitorLoop publishes capture level measurements for the UI's input meter.
func (e *CoreEngine) monitorLoop() {
	const window = 100 * time.Millisecond
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			now := e.clockSrc.Now()
			samples := e.ring.Read(now.Add(-window), window)
			var sum, peak float64
			for _, s := range samples {
				f := math.Abs(float64(s))
				sum += f * f
				if f > peak {
					peak = f
				}
			}
			rms := 0.0
			if len(samples) > 0 {
				rms = math.Sqrt(sum / float64(len(samples)))
			}
			e.bus.Publish(eventbus.TopicAudioLevel, AudioLevel{RMS: rms, Peak: peak, At: now})
		}
	}
}

// spectrumLoop hands raw capture windows to the external FFT worker.
// Honors spectrumWhileTransmitting: with it off, windows captured during a
// transmission are suppressed.
func (e *CoreEngine) spectrumLoop() {
	const window = 341 * time.Millisecond // 4092 samples at 12 kHz
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case <-ticker.C:
			if !e.cfg.FT8.SpectrumWhileTransmitting && e.device.IsPlaying() {
				continue
			}
			now := e.clockSrc.Now()
			samples := e.ring.Read(now.Add(-window), window)
			bins, binHz := coarseSpectrum(samples, internalSampleRate)
			e.bus.Publish(eventbus.TopicSpectrum, SpectrumWindow{
				Samples: samples, SampleRate: internalSampleRate,
				Bins: bins, BinHz: binHz, At: now,
			})
		}
	}
}

// packLoop fans freshly merged slot packs out to the operators and the
// append-only archive, and records completed contacts.
func (e *CoreEngine) packLoop() {
	ch, handle := e.bus.Subscribe(eventbus.TopicSlotPack)
	defer e.bus.Unsubscribe(eventbus.TopicSlotPack, handle)

	seen := make(map[int64]bool)
	for {
		select {
		case <-e.runCtx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			pack, ok := evt.(*model.SlotPack)
			if !ok || pack == nil {
				continue
			}
			e.ops.OnDecodeResult(pack)
			e.checkCompletedQSOs()
			if e.frameLog != nil {
				op := "updated"
				if !seen[pack.SlotIndex] {
					op = "created"
					seen[pack.SlotIndex] = true
				}
				if err := e.frameLog.Append(pack, op, e.clockSrc.Now()); err != nil {
					e.log.Warnf("frame log: %v", err)
				}
			}
		}
	}
}

// checkCompletedQSOs records any operator whose strategy has just reached
// the completed state, once per peer.
func (e *CoreEngine) checkCompletedQSOs() {
	for _, o := range e.ops.All() {
		s := o.Strategy()
		if s.State() != model.QSOComplete {
			continue
		}
		peer := s.Context().TargetCallsign
		if peer == "" {
			continue
		}
		e.recordedMu.Lock()
		already := e.recorded[o.ID()] == peer
		if !already {
			e.recorded[o.ID()] = peer
		}
		e.recordedMu.Unlock()
		if already {
			continue
		}

		rec := model.QSORecord{
			Operator:     o.Config().MyCallsign,
			PeerCallsign: peer,
			PeerGrid:     s.Context().TargetGrid,
			ReportSent:   s.Context().ReportSent,
			ReportRecv:   s.Context().ReportReceived,
			State:        model.QSOComplete,
		}
		if e.worked != nil {
			if err := e.worked.RecordQSO(peer, o.Config().Mode, "", e.clockSrc.Now()); err != nil {
				e.log.Warnf("worked index: %v", err)
			}
		}
		if e.met != nil {
			e.met.QSOCompletions.Inc()
		}
		e.bus.Publish(eventbus.TopicQSORecord, rec)
		e.log.Infof("qso complete: %s worked %s", o.Config().MyCallsign, peer)
	}
}

// radioWatchLoop notices the radio link dropping while running and drives
// the forced-stop path. Transports that implement radio.Notifier push the
// drop (with its reason) the moment a CAT exchange fails; the 1 Hz poll
// remains as the fallback for transports that can't notice on their own.
func (e *CoreEngine) radioWatchLoop() {
	events := e.radio.TransportEvents() // nil for non-notifying transports
	// Drain anything queued before this run: the previous stop's own
	// disconnect is history, not a live drop.
drain:
	for events != nil {
		select {
		case <-events:
		default:
			break drain
		}
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	wasConnected := e.radio.IsConnected()
	for {
		select {
		case <-e.runCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Kind {
			case radio.EventDisconnected:
				e.handleRadioDisconnect(ev.Reason)
				return
			case radio.EventConnected:
				wasConnected = true
			case radio.EventFrequency:
				e.bus.Publish(eventbus.TopicRadio, RadioStatus{
					Connected: true, Reason: "frequency", FreqHz: ev.FreqHz, At: e.clockSrc.Now(),
				})
			}
		case <-ticker.C:
			connected := e.radio.IsConnected()
			if wasConnected && !connected {
				e.handleRadioDisconnect("transport lost")
				return
			}
			wasConnected = connected
		}
	}
}

// handleRadioDisconnect implements the disconnect-during-transmit ordering:
// operators stop, PTT drops, then the supervisor is told to wind down.
func (e *CoreEngine) handleRadioDisconnect(reason string) {
	during := e.device.IsPlaying() || e.ptt.Active()
	e.log.Errorf("radio disconnected: %s (transmitting=%v)", reason, during)

	e.ops.StopAllOperators()
	e.ptt.ForceOff()

	status := RadioStatus{
		Connected: false, Reason: reason, DuringTransmit: during, At: e.clockSrc.Now(),
	}
	if during {
		status.Recommendation = "transmission aborted mid-slot; check the CAT cable and consider lowering transmit power before retrying"
	}
	e.bus.Publish(eventbus.TopicRadio, status)

	// stop blocks on wg.Wait; this loop is part of wg, so hand off.
	go func() {
		if err := e.stop(true, reason); err != nil {
			e.log.Errorf("forced stop: %v", err)
		}
		e.reconnectWatch(reason)
	}()
}

// reconnectWatch polls the transport after a forced stop; if the link comes
// back while the engine is idle, it restarts automatically.
func (e *CoreEngine) reconnectWatch(reason string) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for attempts := 0; attempts < 30; attempts++ {
		<-ticker.C
		if e.sm.State() != model.EngineIdle {
			return
		}
		if err := e.radio.Start(context.Background()); err != nil {
			continue
		}
		if e.radio.IsConnected() {
			e.bus.Publish(eventbus.TopicRadio, RadioStatus{Connected: true, Reason: "reconnected", At: e.clockSrc.Now()})
			e.log.Infof("radio reconnected after %q; restarting engine", reason)
			if err := e.Start(context.Background()); err != nil {
				e.log.Errorf("auto restart: %v", err)
			}
			return
		}
	}
}

// coarseSpectrum computes a low-resolution magnitude spectrum over a
// power-of-two prefix of samples. 512 points at 12 kHz gives ~23 Hz bins,
// plenty for a preview waterfall.
func coarseSpectrum(samples []float32, sampleRate int) ([]float64, float64) {
	const points = 512
	if len(samples) < points {
		return nil, 0
	}
	in := make([]float64, points)
	for i := 0; i < points; i++ {
		in[i] = float64(samples[i])
	}
	out := fft.FFTReal(in)
	bins := make([]float64, points/2)
	for i := range bins {
		bins[i] = cmplx.Abs(out[i]) / points
	}
	return bins, float64(sampleRate) / points
}

// Mode returns the active mode descriptor.
func (e *CoreEngine) Mode() model.ModeDescriptor {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()
	return e.mode
}

// SetMode switches the engine to the named mode. The slot clock and
// scheduler pick the new timing up from the next slot boundary; slot packs
// already aggregated keep the bounds they were created with.
func (e *CoreEngine) SetMode(name string) error {
	m, ok := model.ModeByName(name)
	if !ok {
		return engineerr.New("engine: set mode", engineerr.KindConfig, fmt.Errorf("unknown mode %q", name))
	}
	e.modeMu.Lock()
	e.mode = m
	e.modeMu.Unlock()

	e.slotClock.SetParams(clock.Params{
		SlotPeriod:     m.SlotPeriod,
		SubWindowCount: m.SubWindowCount,
		EncodeLeadTime: m.EncodeLeadTime,
		TransmitOffset: m.TransmitOffset,
		Compensation:   time.Duration(e.cfg.Radio.TransmitCompensationMs) * time.Millisecond,
	})
	e.scheduler.SetMode(m)
	e.bus.Publish(eventbus.TopicMode, m)
	e.log.Infof("mode changed to %s", m.Name)
	return nil
}

// SetCompensation adjusts the slot clock's timing compensation at runtime.
func (e *CoreEngine) SetCompensation(d time.Duration) {
	e.slotClock.SetCompensation(d)
}

// NextSlotIn reports time remaining until the next slot boundary.
func (e *CoreEngine) NextSlotIn() time.Duration { return e.slotClock.NextSlotIn() }

// slotBounds mirrors the scheduler's UTC-epoch-anchored slot arithmetic.
func (e *CoreEngine) slotBounds(idx int64) (start, end time.Time) {
	period := e.Mode().SlotPeriod
	start = time.Unix(0, idx*int64(period)).UTC()
	return start, start.Add(period)
}
