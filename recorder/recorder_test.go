package recorder

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/pyroscope-io/jitrec/journal"
)

var _ = Describe("Recorder", func() {
	var (
		mockCtrl *gomock.Controller
		src      *MockEventSource
		j        *memJournal
		gate     *flag
		r        *Recorder
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		src = NewMockEventSource(mockCtrl)
		j = newMemJournal()
		gate = &flag{}
		gate.v.Store(1)
		r = New(j, WithGate(gate), WithLogger(quietLogger()))
	})

	Context("initialization", func() {
		It("should reject a nil source", func() {
			Expect(r.Initialize(nil)).To(MatchError(ErrInvalidSource))
		})

		It("should only accept a positive recursion depth", func() {
			Expect(r.MaxRecurseDepth()).To(Equal(DefaultMaxRecurseDepth))
			Expect(New(j, WithMaxRecurseDepth(0), WithLogger(quietLogger())).MaxRecurseDepth()).To(Equal(DefaultMaxRecurseDepth))
			Expect(New(j, WithMaxRecurseDepth(3), WithLogger(quietLogger())).MaxRecurseDepth()).To(Equal(3))
		})

		It("should set the event mask and subscribe", func() {
			gomock.InOrder(
				src.EXPECT().
					SetEventMask(MonitorJITCompilation|MonitorEnterLeave|EnableFrameInfo).
					Return(nil),
				src.EXPECT().Subscribe(r).Return(nil),
			)

			Expect(r.Initialize(src)).To(Succeed())
			Expect(r.Initialize(src)).To(MatchError(ErrAlreadyInitialized))
		})

		It("should release the source if the mask is rejected", func() {
			rejected := errors.New("E_INVALIDARG")
			src.EXPECT().SetEventMask(gomock.Any()).Return(rejected)
			src.EXPECT().Release()

			err := r.Initialize(src)

			Expect(err).To(MatchError(rejected))
			Expect(gate.closed.Load()).To(BeTrue())
		})

		It("should release the source if the subscription is rejected", func() {
			rejected := errors.New("CORPROF_E_UNSUPPORTED_CALL_SEQUENCE")
			src.EXPECT().SetEventMask(gomock.Any()).Return(nil)
			src.EXPECT().Subscribe(gomock.Any()).Return(rejected)
			src.EXPECT().Release()

			err := r.Initialize(src)

			Expect(err).To(MatchError(rejected))
			r.JITCompilationStarted(1, true)
			Expect(j.Lines(journal.JIT)).To(BeEmpty())
		})

		It("should record when the flag is not mapped", func() {
			r = New(j, WithGateOpener(noGate), WithLogger(quietLogger()))
			src.EXPECT().SetEventMask(gomock.Any()).Return(nil)
			src.EXPECT().Subscribe(gomock.Any()).Return(nil)
			Expect(r.Initialize(src)).To(Succeed())

			r.JITCompilationStarted(7, true)

			Expect(j.Lines(journal.JIT)).To(Equal([]string{`{"FunctionID":7}`}))
		})
	})

	Context("when initialized", func() {
		BeforeEach(func() {
			src.EXPECT().SetEventMask(gomock.Any()).Return(nil)
			src.EXPECT().Subscribe(gomock.Any()).Return(nil)
			Expect(r.Initialize(src)).To(Succeed())
		})

		It("should record a compiled function once", func() {
			r.JITCompilationStarted(7, true)
			r.JITCompilationStarted(7, false)
			r.JITCompilationStarted(8, true)

			Expect(j.Lines(journal.JIT)).To(Equal([]string{
				`{"FunctionID":7}`,
				`{"FunctionID":8}`,
			}))
		})

		It("should not record anything while the flag is zero", func() {
			gate.v.Store(0)

			r.JITCompilationStarted(7, true)
			r.FunctionEnter(42, 5)

			Expect(j.Lines(journal.JIT)).To(BeEmpty())
			Expect(j.Lines(journal.Enter)).To(BeEmpty())
			Expect(j.Lines(journal.Modules)).To(BeEmpty())
		})

		It("should follow the flag without restarting", func() {
			gate.v.Store(0)
			r.JITCompilationStarted(7, true)
			gate.v.Store(1)
			r.JITCompilationStarted(7, true)

			Expect(j.Lines(journal.JIT)).To(Equal([]string{`{"FunctionID":7}`}))
		})

		It("should ignore events after shutdown", func() {
			src.EXPECT().Release().Times(1)

			r.Shutdown()
			r.Shutdown()
			r.JITCompilationStarted(7, true)
			r.FunctionEnter(42, 5)

			Expect(j.Lines(journal.JIT)).To(BeEmpty())
			Expect(r.Close()).To(Succeed())
			Expect(gate.closed.Load()).To(BeTrue())
		})

		It("should record an entered function once", func() {
			src.EXPECT().EnterFrame(FunctionID(42), EnterInfo(5)).Return(FrameToken(9), nil)
			src.EXPECT().FunctionInfo(FunctionID(42), FrameToken(9)).
				Return(FunctionInfo{ModuleID: 3, Token: 0x06000001}, nil)
			src.EXPECT().ModuleInfo(ModuleID(3)).
				Return(ModuleInfo{Name: `C:\app\App.dll`, AssemblyID: 30}, nil)
			src.EXPECT().AssemblyName(AssemblyID(30)).Return("App", nil)

			r.FunctionEnter(42, 5)
			r.FunctionEnter(42, 6)

			Expect(j.Lines(journal.Enter)).To(Equal([]string{
				`{"FunctionID":42,"ModuleID":3,"MethodToken":100663297,` +
					`"DeclaringTypeModuleID":0,"DeclaringTypeToken":0,` +
					`"DeclaringTypeArgCount":0,"MethodTypeArgCount":0}`,
			}))
			Expect(j.Lines(journal.Modules)).To(Equal([]string{
				`{"ModuleID":3,"ModuleName":"C:\\app\\App.dll","AssemblyID":30,"AssemblyName":"App"}`,
			}))
		})

		It("should keep compilation and entry tracking independent", func() {
			src.EXPECT().EnterFrame(gomock.Any(), gomock.Any()).Return(FrameToken(0), nil)
			src.EXPECT().FunctionInfo(FunctionID(7), gomock.Any()).Return(FunctionInfo{}, nil)

			r.JITCompilationStarted(7, true)
			r.FunctionEnter(7, 1)

			Expect(j.Lines(journal.JIT)).To(HaveLen(1))
			Expect(j.Lines(journal.Enter)).To(HaveLen(1))
		})

		It("should resolve declaring type and method arguments", func() {
			src.EXPECT().EnterFrame(FunctionID(43), gomock.Any()).Return(FrameToken(1), nil)
			src.EXPECT().FunctionInfo(FunctionID(43), FrameToken(1)).Return(FunctionInfo{
				ClassID:  100,
				ModuleID: 3,
				Token:    0x06000002,
				TypeArgs: []ClassID{201},
			}, nil)
			src.EXPECT().ClassInfo(ClassID(100)).
				Return(ClassInfo{ModuleID: 4, TypeDef: 0x02000003, TypeArgs: []ClassID{200}}, nil)
			src.EXPECT().ClassInfo(ClassID(200)).
				Return(ClassInfo{ModuleID: 5, TypeDef: 0x02000010}, nil)
			src.EXPECT().ClassInfo(ClassID(201)).
				Return(ClassInfo{ModuleID: 3, TypeDef: 0x02000011}, nil)
			src.EXPECT().ModuleInfo(ModuleID(3)).Return(ModuleInfo{Name: "App.dll", AssemblyID: 30}, nil)
			src.EXPECT().ModuleInfo(ModuleID(4)).Return(ModuleInfo{Name: "Lib.dll", AssemblyID: 31}, nil)
			src.EXPECT().ModuleInfo(ModuleID(5)).Return(ModuleInfo{Name: "App.Extra.dll", AssemblyID: 30}, nil)
			src.EXPECT().AssemblyName(AssemblyID(30)).Return("App", nil).Times(1)
			src.EXPECT().AssemblyName(AssemblyID(31)).Return("Lib", nil).Times(1)

			r.FunctionEnter(43, 0)

			Expect(j.Lines(journal.Enter)).To(Equal([]string{
				`{"FunctionID":43,"ModuleID":3,"MethodToken":100663298,` +
					`"DeclaringTypeModuleID":4,"DeclaringTypeToken":33554435,` +
					`"DeclaringTypeArgCount":1,"DeclaringTypeArgs":[{"ModuleID":5,"TypeDef":33554448,"NestedCount":0}],` +
					`"MethodTypeArgCount":1,"MethodTypeArgs":[{"ModuleID":3,"TypeDef":33554449,"NestedCount":0}]}`,
			}))
			Expect(j.Lines(journal.Modules)).To(ConsistOf(
				`{"ModuleID":3,"ModuleName":"App.dll","AssemblyID":30,"AssemblyName":"App"}`,
				`{"ModuleID":4,"ModuleName":"Lib.dll","AssemblyID":31,"AssemblyName":"Lib"}`,
				`{"ModuleID":5,"ModuleName":"App.Extra.dll","AssemblyID":30,"AssemblyName":"App"}`,
			))
		})

		It("should drop the entry record when the function lookup fails", func() {
			src.EXPECT().EnterFrame(FunctionID(44), gomock.Any()).Return(FrameToken(0), errors.New("no frame"))
			src.EXPECT().FunctionInfo(FunctionID(44), FrameToken(0)).Return(FunctionInfo{}, errors.New("unknown"))

			r.FunctionEnter(44, 0)
			r.FunctionEnter(44, 0)

			Expect(j.Lines(journal.Enter)).To(BeEmpty())
		})

		It("should zero the declaring type when its lookup fails", func() {
			src.EXPECT().EnterFrame(gomock.Any(), gomock.Any()).Return(FrameToken(0), nil)
			src.EXPECT().FunctionInfo(FunctionID(45), gomock.Any()).
				Return(FunctionInfo{ClassID: 100, ModuleID: 3, Token: 1}, nil)
			src.EXPECT().ClassInfo(ClassID(100)).Return(ClassInfo{}, errors.New("unloaded"))
			src.EXPECT().ModuleInfo(ModuleID(3)).Return(ModuleInfo{}, errors.New("unloaded"))

			r.FunctionEnter(45, 0)

			Expect(j.Lines(journal.Enter)).To(Equal([]string{
				`{"FunctionID":45,"ModuleID":3,"MethodToken":1,` +
					`"DeclaringTypeModuleID":0,"DeclaringTypeToken":0,` +
					`"DeclaringTypeArgCount":0,"MethodTypeArgCount":0}`,
			}))
			Expect(j.Lines(journal.Modules)).To(BeEmpty())
		})

		It("should record once under concurrent delivery", func() {
			src.EXPECT().EnterFrame(FunctionID(46), gomock.Any()).Return(FrameToken(0), nil).Times(1)
			src.EXPECT().FunctionInfo(FunctionID(46), gomock.Any()).
				Return(FunctionInfo{ModuleID: 3}, nil).Times(1)
			src.EXPECT().ModuleInfo(ModuleID(3)).
				Return(ModuleInfo{Name: "App.dll", AssemblyID: 30}, nil).Times(1)
			src.EXPECT().AssemblyName(AssemblyID(30)).Return("App", nil).Times(1)

			var wg sync.WaitGroup
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					r.FunctionEnter(46, 0)
					r.JITCompilationStarted(46, false)
				}()
			}
			wg.Wait()

			Expect(j.Lines(journal.Enter)).To(HaveLen(1))
			Expect(j.Lines(journal.JIT)).To(HaveLen(1))
			Expect(j.Lines(journal.Modules)).To(HaveLen(1))
		})
	})
})
