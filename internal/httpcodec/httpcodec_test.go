package httpcodec

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDecodeEncode(t *testing.T) {
	Convey("Given a POST /admin request with a Content-Length body", t, func() {
		raw := "POST /admin HTTP/1.1\r\nHost: card\r\nContent-Type: application/vnd.etsi.sct\r\nContent-Length: 6\r\n\r\n\x80\x16\x00\x00\x01\xff"
		r := bufio.NewReader(strings.NewReader(raw))

		Convey("Decode produces the method, path, content-type and body", func() {
			req, err := Decode(r, DefaultLimits())
			So(err, ShouldBeNil)
			So(req.Method, ShouldEqual, "POST")
			So(req.Path, ShouldEqual, "/admin")
			So(req.ContentType, ShouldEqual, "application/vnd.etsi.sct")
			So(req.Body, ShouldResemble, []byte{0x80, 0x16, 0x00, 0x00, 0x01, 0xff})
		})
	})

	Convey("Given a chunked request body with a trailer", t, func() {
		raw := "POST /admin HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nabcd\r\n2\r\nef\r\n0\r\nX-Trailer: ignored\r\n\r\n"
		r := bufio.NewReader(strings.NewReader(raw))

		Convey("Decode reassembles the chunks and discards the trailer", func() {
			req, err := Decode(r, DefaultLimits())
			So(err, ShouldBeNil)
			So(string(req.Body), ShouldEqual, "abcdef")
		})
	})

	Convey("Given a request whose header block exceeds the limit", t, func() {
		big := strings.Repeat("X", 100)
		raw := "POST /admin HTTP/1.1\r\nHost: " + big + "\r\n\r\n"
		r := bufio.NewReader(strings.NewReader(raw))
		limits := Limits{MaxHeaderBytes: 32, MaxBodyBytes: DefaultMaxBodyBytes}

		Convey("Decode refuses with ErrRequestTooLarge", func() {
			_, err := Decode(r, limits)
			So(err, ShouldEqual, ErrRequestTooLarge)
		})
	})

	Convey("Given a request whose body exceeds the limit", t, func() {
		raw := "POST /admin HTTP/1.1\r\nContent-Length: 10\r\n\r\n0123456789"
		r := bufio.NewReader(strings.NewReader(raw))
		limits := Limits{MaxHeaderBytes: DefaultMaxHeaderBytes, MaxBodyBytes: 4}

		Convey("Decode refuses with ErrRequestTooLarge", func() {
			_, err := Decode(r, limits)
			So(err, ShouldEqual, ErrRequestTooLarge)
		})
	})

	Convey("Given a request with a folded header", t, func() {
		raw := "POST /admin HTTP/1.1\r\nHost: card\r\n continuation\r\n\r\n"
		r := bufio.NewReader(strings.NewReader(raw))

		Convey("Decode refuses with ErrHeaderFolding", func() {
			_, err := Decode(r, DefaultLimits())
			So(err, ShouldEqual, ErrHeaderFolding)
		})
	})

	Convey("Given a 200 response with a body", t, func() {
		var buf bytes.Buffer
		resp := Response{Status: StatusOK, ContentType: DefaultContentType, Body: []byte{0xA0, 0xA4, 0x00, 0x00}}

		Convey("Encode writes a well-formed status line and framing", func() {
			err := Encode(&buf, resp)
			So(err, ShouldBeNil)
			So(buf.String(), ShouldStartWith, "HTTP/1.1 200 OK\r\n")
			So(buf.String(), ShouldContainSubstring, "Content-Length: 4\r\n")
			So(buf.Bytes()[buf.Len()-4:], ShouldResemble, resp.Body)
		})
	})

	Convey("Given a 204 response with no body", t, func() {
		var buf bytes.Buffer
		resp := Response{Status: StatusNoContent}

		Convey("Encode omits Content-Type and writes Content-Length: 0", func() {
			err := Encode(&buf, resp)
			So(err, ShouldBeNil)
			So(buf.String(), ShouldNotContainSubstring, "Content-Type")
			So(buf.String(), ShouldContainSubstring, "Content-Length: 0\r\n")
		})
	})
}
