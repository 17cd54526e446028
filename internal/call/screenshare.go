package call

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call/internal/media"
)

// ToggleScreenShare starts or stops sending a screen in place of the camera.
// The outbound video sender's track is replaced, so no renegotiation takes
// place. It reports whether the screen is being shared afterwards.
func (c *Call) ToggleScreenShare(ctx context.Context) (sharing bool, err error) {
	acquire := false
	err = c.do(ctx, func() error {
		if c.videoSender == nil {
			c.notice("screen sharing needs an active call", nil)
			return ErrNoVideoSender
		}
		if c.state != StateConnected {
			c.notice("screen sharing is only available while connected", nil)
			return ErrInvalidState
		}
		if c.sharing {
			c.stopScreenShare(true)
			return nil
		}
		acquire = true
		return nil
	})
	if err != nil || !acquire {
		return false, err
	}

	stream, mediaErr := c.cfg.Devices.DisplayMedia(ctx)
	err = c.do(context.Background(), func() error {
		return c.screenAcquired(stream, mediaErr)
	})
	if err != nil {
		if stream != nil {
			stream.Stop()
		}
		return false, err
	}
	return true, nil
}

func (c *Call) screenAcquired(stream *media.Stream, err error) error {
	if err != nil {
		if errors.Is(err, media.ErrPickerCancelled) {
			c.notice("screen sharing was cancelled", nil)
		} else {
			c.notice("could not capture the screen", err)
		}
		return err
	}
	tracks := stream.VideoTracks()
	if len(tracks) == 0 {
		c.notice("the shared screen has no video", nil)
		return media.ErrNoDevice
	}
	if c.videoSender == nil || c.state != StateConnected || c.sharing {
		return ErrInvalidState
	}

	screen := tracks[0]
	if err := c.videoSender.ReplaceTrack(screen.Local()); err != nil {
		c.notice("could not share the screen", err)
		return err
	}
	c.savedCamera = c.camera
	c.screen = screen
	c.sharing = true

	revert := func() {
		c.post(func() {
			if c.screen == screen {
				c.log.Info("screen share ended by the source")
				c.stopScreenShare(true)
			}
		})
	}
	screen.OnEnded(revert)
	if screen.ReadyState() == media.ReadyStateEnded {
		revert()
	}

	c.emit(Event{Type: EventScreenShareChanged, Sharing: true})
	c.setPreview(screen)
	return nil
}

// stopScreenShare releases the screen. With restore the saved camera goes
// back on the video sender, or nothing when there was no camera.
func (c *Call) stopScreenShare(restore bool) {
	if c.screen == nil {
		return
	}
	screen := c.screen
	c.screen = nil

	if restore && c.videoSender != nil {
		var next webrtc.TrackLocal
		if c.savedCamera != nil {
			next = c.savedCamera.Local()
		}
		if err := c.videoSender.ReplaceTrack(next); err != nil {
			c.notice("could not restore the camera", err)
			// The screen is about to stop; the sender must not keep it.
			if next != nil {
				if err := c.videoSender.ReplaceTrack(nil); err != nil {
					c.log.Error("detach screen from video sender", "err", err)
				}
			}
		}
	}
	screen.Stop()
	c.savedCamera = nil
	c.sharing = false

	c.emit(Event{Type: EventScreenShareChanged, Sharing: false})
	c.setPreview(c.camera)
}
