package image

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func createTestNRGBA(width, height int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestPixelDiff_Calculate(t *testing.T) {
	type in struct {
		first  image.Image
		second image.Image
	}

	type want struct {
		first float64
	}

	half := createTestImage(100, 100, color.White)
	for y := 0; y < 50; y++ {
		for x := 0; x < 100; x++ {
			half.Set(x, y, color.Black)
		}
	}
	same := createTestImage(100, 100, color.White)

	tests := []struct {
		name string
		in   in
		want want
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				createTestImage(100, 100, color.White),
				createTestImage(100, 100, color.White),
			},
			want{
				0.0,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				createTestImage(100, 100, color.White),
				createTestImage(100, 100, color.Black),
			},
			want{
				1.0,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				createTestImage(100, 100, color.White),
				half,
			},
			want{
				0.5,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				same,
				same,
			},
			want{
				0.0,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				createTestNRGBA(100, 100, color.Black),
				createTestImage(100, 100, color.Black),
			},
			want{
				0.0,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				createTestImage(100, 50, color.Black),
				createTestImage(100, 100, color.Black),
			},
			want{
				0.5,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				createTestImage(100, 100, color.RGBA{R: 250, G: 250, B: 250, A: 255}),
				createTestImage(100, 100, color.White),
			},
			want{
				0.0,
			},
		},
	}

	for _, tt := range tests {
		name := tt.name
		in := tt.in
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := NewPixelDiff(0.1).Calculate(in.first, in.second)
			if diff := cmp.Diff(want.first, got.DiffAmount); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestPixelDiff_CalculateColors(t *testing.T) {
	t.Parallel()

	baseline := createTestImage(2, 1, color.Gray{Y: 128})
	target := createTestImage(2, 1, color.Gray{Y: 128})
	target.Set(0, 0, color.White)
	target.Set(1, 0, color.Black)

	got := NewPixelDiff(0.1).Calculate(baseline, target).Image
	want := []color.Color{
		color.RGBA{R: 255, A: 255},
		color.RGBA{B: 255, A: 255},
	}
	for x, c := range want {
		if diff := cmp.Diff(c, got.At(x, 0)); diff != "" {
			t.Errorf("pixel %d (-want +got):\n%s", x, diff)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	data, err := EncodePNG(createTestImage(10, 10, color.White))
	if err != nil {
		t.Fatal(err)
	}
	img, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(0.0, NewPixelDiff(0).Calculate(img, createTestImage(10, 10, color.White)).DiffAmount); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if _, err := Decode([]byte("not an image")); err == nil {
		t.Error("expected decode error")
	}
}

func BenchmarkPixelDiff_Calculate(b *testing.B) {
	pd := NewPixelDiff(0.1)
	img1 := createTestImage(1920, 1080, color.White)
	img2 := createTestImage(1920, 1080, color.Black)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pd.Calculate(img1, img2)
	}
}
