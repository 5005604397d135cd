package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"

	"github.com/ahmedtd/numscan/toolbox"
	"github.com/google/subcommands"
	"golang.org/x/image/draw"

	_ "image/jpeg"
	_ "image/png"
)

// Images are scaled to imageSide x imageSide before classification.
const imageSide = 28

type InferCommand struct {
	weightsFile string
	imageFile   string
}

var _ subcommands.Command = (*InferCommand)(nil)

func (*InferCommand) Name() string {
	return "infer"
}

func (*InferCommand) Synopsis() string {
	return "Infer using the model weights"
}

func (*InferCommand) Usage() string {
	return ``
}

func (c *InferCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.weightsFile, "weights", "numscan.safetensors", "Path to the weights produced by the train command")
	f.StringVar(&c.imageFile, "image", "", "Path to the image to predict")
}

func (c *InferCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.executeErr(ctx); err != nil {
		log.Printf("Error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *InferCommand) executeErr(ctx context.Context) error {
	var classifier toolbox.Classifier
	classifier, err := toolbox.LoadClassifier(c.weightsFile)
	if err != nil {
		return fmt.Errorf("while loading weights: %w", err)
	}

	x, err := loadImage(c.imageFile)
	if err != nil {
		return fmt.Errorf("while loading image: %w", err)
	}

	digit, confidence, err := classifier.Classify(x)
	if err != nil {
		return err
	}

	log.Printf("Prediction: %d (confidence %.1f%%)", digit, confidence*100)
	return nil
}

func loadImage(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("while opening image file: %w", err)
	}
	defer f.Close()

	rawImg, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("while decoding image: %w", err)
	}

	return imageToPixels(rawImg), nil
}

// imageToPixels converts img to grayscale, scales it to 28x28, and returns
// the pixels row-major with values in [0, 1].
func imageToPixels(img image.Image) []float64 {
	gray := image.NewGray(image.Rect(0, 0, imageSide, imageSide))
	if img.Bounds().Dx() == imageSide && img.Bounds().Dy() == imageSide {
		draw.Draw(gray, gray.Bounds(), img, img.Bounds().Min, draw.Src)
	} else {
		draw.BiLinear.Scale(gray, gray.Bounds(), img, img.Bounds(), draw.Src, nil)
	}

	out := make([]float64, imageSide*imageSide)
	for y := 0; y < imageSide; y++ {
		for x := 0; x < imageSide; x++ {
			out[y*imageSide+x] = float64(gray.Pix[y*gray.Stride+x]) / 255
		}
	}
	return out
}
