package tabular

import (
	"context"
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// StreamXML decodes every element with the given local name into T and sends
// it to a channel. Documents declaring a non-UTF-8 charset are transcoded.
// Both channels are closed when processing completes.
func StreamXML[T any](ctx context.Context, r io.Reader, elementName string) (<-chan T, <-chan error) {
	outCh := make(chan T, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := xml.NewDecoder(r)
		decoder.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
			enc, err := htmlindex.Get(charset)
			if err != nil {
				return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
			}
			return enc.NewDecoder().Reader(input), nil
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}

			tok, err := decoder.Token()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "xml: read token")
				return
			}

			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != elementName {
				continue
			}

			var item T
			if err := decoder.DecodeElement(&item, &se); err != nil {
				errCh <- eris.Wrapf(err, "xml: decode <%s>", elementName)
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xml: context cancelled")
				return
			}
		}
	}()

	return outCh, errCh
}

// FirstXML returns the first element with the given local name, or false when
// the document holds none.
func FirstXML[T any](ctx context.Context, r io.Reader, elementName string) (T, bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var zero T
	outCh, errCh := StreamXML[T](ctx, r, elementName)
	item, ok := <-outCh
	if ok {
		return item, true, nil
	}
	for err := range errCh {
		if err != nil {
			return zero, false, err
		}
	}
	return zero, false, nil
}
