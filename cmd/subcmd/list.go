package subcmd

import (
	"fmt"
	"io"

	"github.com/aceeric/pullgather/impl/config"
	"github.com/aceeric/pullgather/impl/imagelist"
)

// List writes the images that pull would pull, one per line, in pull order.
func List(out io.Writer) error {
	images, err := imagelist.Resolve(config.GetImages(), config.GetImageFile())
	if err != nil {
		return err
	}
	for _, image := range images {
		fmt.Fprintln(out, image)
	}
	return nil
}
