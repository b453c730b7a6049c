package classifier

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Camera reads frames from a video capture device.
type Camera struct {
	device  int
	capture *gocv.VideoCapture
	frame   gocv.Mat
}

// OpenCamera opens capture device id.
func OpenCamera(id int) (*Camera, error) {
	capture, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, errors.Wrapf(err, "opening camera %d", id)
	}
	return &Camera{device: id, capture: capture, frame: gocv.NewMat()}, nil
}

// Read grabs the next frame and converts it to an RGB image.
func (c *Camera) Read() (image.Image, error) {
	if ok := c.capture.Read(&c.frame); !ok {
		return nil, errors.Errorf("cannot read camera %d", c.device)
	}
	if c.frame.Empty() {
		return nil, errors.Errorf("empty frame from camera %d", c.device)
	}
	img, err := c.frame.ToImage()
	return img, errors.Wrap(err, "converting frame")
}

// Close releases the frame buffer and the device.
func (c *Camera) Close() error {
	if c.capture == nil {
		return nil
	}
	err := c.frame.Close()
	if cerr := c.capture.Close(); err == nil {
		err = cerr
	}
	c.capture = nil
	return err
}
