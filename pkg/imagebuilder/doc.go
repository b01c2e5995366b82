/*
Package imagebuilder materializes a per-function runner image: it renders a
scoped build context containing the user's handler source, a generated
harness script, and a Dockerfile, then drives the engine's image build.
The generated Dockerfile sets EXPOSE 8000 and a CMD so a built image is
directly runnable.
*/
package imagebuilder
