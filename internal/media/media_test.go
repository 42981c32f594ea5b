// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package media_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tirr-c/tweet-broadcast/internal/media"
	"github.com/tirr-c/tweet-broadcast/internal/model"
)

var _ = Describe("Store", func() {
	It("downloads and saves a media blob by key", func() {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.Write([]byte("fake-jpeg-bytes"))
		}))
		defer srv.Close()

		root := GinkgoT().TempDir()
		store := media.New(srv.Client(), root)

		url := srv.URL + "/abc.jpg?name=small"
		m := &model.Media{MediaKey: "3_123", URL: &url}

		Expect(store.Save(context.Background(), m)).To(Succeed())
		Expect(hits).To(Equal(1))

		data, err := os.ReadFile(filepath.Join(root, "images", "3_123.jpg"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("fake-jpeg-bytes"))
	})

	It("skips downloading when the blob already exists", func() {
		var hits int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.Write([]byte("new-bytes"))
		}))
		defer srv.Close()

		root := GinkgoT().TempDir()
		Expect(os.MkdirAll(filepath.Join(root, "images"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(root, "images", "3_456.jpg"), []byte("already-here"), 0o644)).To(Succeed())

		store := media.New(srv.Client(), root)
		url := srv.URL + "/x.jpg"
		m := &model.Media{MediaKey: "3_456", URL: &url}

		Expect(store.Save(context.Background(), m)).To(Succeed())
		Expect(hits).To(Equal(0))
	})

	It("is a no-op for media with no resolvable URL", func() {
		store := media.New(http.DefaultClient, GinkgoT().TempDir())
		m := &model.Media{MediaKey: "3_789"}
		Expect(store.Save(context.Background(), m)).To(Succeed())
	})

	It("reports an error for a non-200 response", func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		store := media.New(srv.Client(), GinkgoT().TempDir())
		url := srv.URL + "/missing.jpg"
		m := &model.Media{MediaKey: "3_404", URL: &url}

		Expect(store.Save(context.Background(), m)).To(HaveOccurred())
	})
})
